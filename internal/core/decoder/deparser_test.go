package decoder

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowcache/internal/core"
)

func TestDeparseRoundTrip(t *testing.T) {
	frames := map[string][]byte{
		"tcp": tcpFrame(t, "hello world"),
		"udp": udpFrame(t),
	}

	d := NewStandardDecoder(Config{})
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			pkt, err := d.Decode(core.RawPacket{Data: frame})
			require.NoError(t, err)

			out := Deparse(nil, &pkt)
			assert.Equal(t, frame, out)
		})
	}
}

func TestDeparseAfterRewrite(t *testing.T) {
	d := NewStandardDecoder(Config{})
	pkt, err := d.Decode(core.RawPacket{Data: tcpFrame(t, "hello world")})
	require.NoError(t, err)

	newDst := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x09}
	pkt.Headers.Ethernet.SrcMAC = pkt.Headers.Ethernet.DstMAC
	pkt.Headers.Ethernet.DstMAC = newDst
	pkt.Headers.IPv4.TTL--

	out := Deparse(make([]byte, 0, 128), &pkt)

	// Our own parser must accept the checksum.
	again, err := d.Decode(core.RawPacket{Data: out})
	require.NoError(t, err)
	assert.False(t, again.Headers.ChecksumError)
	assert.Equal(t, uint8(63), again.Headers.IPv4.TTL)

	// And gopacket must see the rewritten headers.
	gp := gopacket.NewPacket(out, layers.LayerTypeEthernet, gopacket.Default)
	ethLayer, ok := gp.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	assert.Equal(t, newDst[:], []byte(ethLayer.DstMAC))
	assert.Equal(t, []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, []byte(ethLayer.SrcMAC))

	ipLayer, ok := gp.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.Equal(t, uint8(63), ipLayer.TTL)

	tcpLayer, ok := gp.Layer(layers.LayerTypeTCP).(*layers.TCP)
	require.True(t, ok)
	assert.Equal(t, layers.TCPPort(40000), tcpLayer.SrcPort)
	assert.Equal(t, "hello world", string(tcpLayer.Payload))
}

func TestDeparseEthernetOnly(t *testing.T) {
	pkt := core.DecodedPacket{
		Headers: core.HeaderRecord{
			Ethernet:      core.EthernetHeader{EtherType: 0x0806},
			EthernetValid: true,
		},
		Payload: []byte{0x00, 0x01},
	}

	out := Deparse(nil, &pkt)
	require.Len(t, out, 16)
	assert.Equal(t, []byte{0x08, 0x06, 0x00, 0x01}, out[12:])
}
