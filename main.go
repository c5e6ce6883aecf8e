// Command ratemystay runs the housing discovery service.
package main

import "github.com/JakeFAU/ratemystay/cmd"

func main() {
	cmd.Execute()
}
