package main

import "github.com/AnastRaja/chatbot-sub000/cmd"

func main() {
	cmd.Execute()
}
