package main

import "github.com/eleven-am/rtms-sentiment/internal/bootstrap"

func main() {
	bootstrap.Run()
}
