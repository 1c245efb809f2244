// Command satchel is the CLI front end for the satchel entity manager.
package main

import "github.com/mesh-intelligence/satchel/internal/cli"

func main() {
	cli.Execute()
}
