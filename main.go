// Command follower-tracker serves the follower tracking API.
package main

import "github.com/JakeFAU/follower-tracker/cmd"

func main() {
	cmd.Execute()
}
