package main

import "pairchat-backend/cmd"

func main() {
	cmd.Run()
}
