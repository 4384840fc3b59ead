package main

import "download-tracker/cmd"

func main() {
	cmd.Execute()
}
