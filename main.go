package main

import "dbbridge/cmd"

func main() {
	cmd.Execute()
}
