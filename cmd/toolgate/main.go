// toolgate decides whether an agent's tool call may proceed.
package main

import "github.com/ppiankov/toolgate/internal/cli"

func main() {
	cli.Execute()
}
