package main

import "github.com/ValentinKolb/wBridge/cmd"

func main() {
	cmd.Execute()
}
