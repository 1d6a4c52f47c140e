package main

import "serpradio/cmd"

func main() {
	cmd.Execute()
}
