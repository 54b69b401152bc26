package main

import (
	"github.com/EnArvy/Discord-Gemini-Chatbot/cmd"
)

func main() {
	cmd.Execute()
}
