// fakeuci is a minimal UCI engine used by integration tests.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func main() {
	fmt.Fprintln(os.Stderr, "fakeuci starting")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		switch {
		case cmd == "uci":
			fmt.Println("id name fakeuci")
			fmt.Println("option name Threads type spin default 1 min 1 max 512")
			fmt.Println("option name Hash type spin default 16 min 1 max 1024")
			fmt.Println("uciok")
		case cmd == "isready":
			fmt.Println("readyok")
		case strings.HasPrefix(cmd, "go"):
			fmt.Println("info depth 1 score cp 13 nodes 20 pv e2e4")
			fmt.Println("bestmove e2e4")
		case cmd == "crash":
			os.Exit(3)
		case cmd == "quit":
			return
		}
	}
}
