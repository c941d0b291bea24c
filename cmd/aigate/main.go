// Command aigate is an AI tool-calling gateway for governed database access.
package main

import "github.com/kessel-b2b/aigate/cmd/aigate/cmd"

func main() {
	cmd.Execute()
}
