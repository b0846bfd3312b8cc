package main

import "github.com/mossy-p/webrtc-mesh/internal/logging"

func main() {
	logging.Init()
	Execute()
}
