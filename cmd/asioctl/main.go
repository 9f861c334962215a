package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dougsko/asiod/pkg/client"
)

var (
	socketPath = flag.String("socket", "/tmp/asiod.sock", "Unix socket path")
	command    = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'GEOMETRY:0')")
	timeout    = flag.Duration("timeout", 10*time.Second, "Response timeout")
)

func main() {
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	c := client.NewSocketClient(*socketPath)
	c.SetTimeout(*timeout)

	response, err := c.SendCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", response.String())
	if !response.Success {
		os.Exit(2)
	}
}

func showHelp() {
	fmt.Println("asioctl - ASIO Daemon Control Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/asiod.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println("  -timeout <dur>    Response timeout (default: 10s)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                        Get stream status")
	fmt.Println("  DEVICES                       List drivers")
	fmt.Println("  GEOMETRY:<device>             Legal buffer sizes of a device")
	fmt.Println("  CHANNEL:<device>:<in|out>:<n> Native channel name")
	fmt.Println("  SAMPLERATE:<hz>               Change the stream sample rate")
	fmt.Println("  PANEL:<device>                Show the driver control panel")
	fmt.Println("  START / STOP / RESTART        Stream lifecycle")
	fmt.Println("  EVENTS:<n>                    Last n driver events")
	fmt.Println("  INJECT:<code>:<value>[:<hz>]  Post a raw driver message")
	fmt.Println("  PING                          Test connection")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s CHANNEL:0:out:1\n", os.Args[0])
	fmt.Printf("  %s INJECT:3:1024\n", os.Args[0])
	fmt.Printf("  echo 'STATUS' | nc -U /tmp/asiod.sock\n")
}
