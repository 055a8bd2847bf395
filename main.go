package main

import "github.com/arcward/modconcierge/cmd"

func main() {
	cmd.Execute()
}
