// Command qcoredemo wires together the collaborator-facing pieces of
// package qcore into a single local handshake-and-request walkthrough,
// the way the teacher's cmd/main.go built one Client and drove one
// request end to end.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/quic-go/qpack"

	"github.com/luoxk/qcore/http3"
)

func main() {
	settings := &http3.Settings{MaxFieldSectionSize: 16 * 1024}

	server := http3.NewConn(http3.PerspectiveServer, settings, 0)
	client := http3.NewConn(http3.PerspectiveClient, settings, 0)

	controlBytes, err := client.OpenControlStream()
	if err != nil {
		log.Fatalf("opening control stream: %v", err)
	}
	encoderBytes, err := client.OpenQPACKEncoderStream()
	if err != nil {
		log.Fatalf("opening qpack encoder stream: %v", err)
	}
	decoderBytes, err := client.OpenQPACKDecoderStream()
	if err != nil {
		log.Fatalf("opening qpack decoder stream: %v", err)
	}

	readers := []io.Reader{
		bytes.NewReader(controlBytes),
		bytes.NewReader(encoderBytes),
		bytes.NewReader(decoderBytes),
	}
	if err := server.RunUnidirectionalStreams(context.Background(), readers); err != nil {
		log.Fatalf("server handling unidirectional streams: %v", err)
	}
	fmt.Printf("server observed peer settings: %+v\n", server.PeerSettings())

	fields := []qpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: ":authority", Value: "example"},
	}
	requestStream, headerBytes, err := client.OpenRequest(0, fields)
	if err != nil {
		log.Fatalf("opening request: %v", err)
	}
	dataBytes, err := client.WriteData(requestStream, []byte("hello"), true)
	if err != nil {
		log.Fatalf("writing request body: %v", err)
	}

	wire := append(append([]byte{}, headerBytes...), dataBytes...)
	r := bytes.NewReader(wire)

	serverRequestStream := http3.NewRequestStream()
	for r.Len() > 0 {
		f, decodedFields, err := server.ReadRequestFrame(serverRequestStream, r)
		if err != nil {
			log.Fatalf("reading request frame: %v", err)
		}
		switch v := f.(type) {
		case *http3.HeadersFrame:
			fmt.Printf("server decoded headers: %+v\n", decodedFields)
		case *http3.DataFrame:
			fmt.Printf("server received body: %q\n", v.Data)
		}
	}

	if err := server.CloseRequest(0, serverRequestStream); err != nil {
		log.Fatalf("closing request: %v", err)
	}
}
