//go:build windows

package transport

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// listen opens a named pipe listener on Windows. name is the bare pipe
// name (e.g. "SmartPiXL-Enrichment"); go-winio expects the full
// \\.\pipe\ prefixed path.
func listen(name string) (net.Listener, error) {
	return winio.ListenPipe(`\\.\pipe\`+name, &winio.PipeConfig{
		MessageMode:      false,
		InputBufferSize:  65536,
		OutputBufferSize: 65536,
	})
}
