// Command qctl is a thin CLI for submitting a QuantumTask document to a
// running QPU's client socket and printing back its result.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	endpoint := flag.String("qpu", "", "QPU endpoint, e.g. tcp://10.0.0.5:51000")
	fileArg := flag.String("file", "", "Path to a QuantumTask JSON file")
	paramsArg := flag.String("params", "", "Instead of -file, send a positional parameter update: comma-separated floats")
	timeout := flag.Duration("timeout", 30*time.Second, "Reply timeout")
	flag.Parse()

	if *endpoint == "" || (*fileArg == "" && *paramsArg == "") {
		fmt.Println("usage: qctl -qpu tcp://host:port (-file circuit.json | -params 0.1,0.2) [-timeout 30s]")
		os.Exit(1)
	}

	var payload []byte
	var err error
	if *fileArg != "" {
		payload, err = os.ReadFile(*fileArg)
		if err != nil {
			log.Fatalf("reading %s: %v", *fileArg, err)
		}
	} else {
		payload = []byte(`{"params":[` + *paramsArg + `]}`)
	}

	url := toWSURL(*endpoint)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("connecting to %s: %v", *endpoint, err)
	}
	defer conn.Close()

	fmt.Printf("submitting to %s (%d bytes)\n", *endpoint, len(payload))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Fatalf("sending task: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(*timeout))
	_, result, err := conn.ReadMessage()
	if err != nil {
		log.Fatalf("waiting for result: %v", err)
	}

	fmt.Println(string(result))
}

func toWSURL(endpoint string) string {
	const tcpPrefix = "tcp://"
	if len(endpoint) >= len(tcpPrefix) && endpoint[:len(tcpPrefix)] == tcpPrefix {
		return "ws://" + endpoint[len(tcpPrefix):] + "/"
	}
	return endpoint
}
