// Command rtpsinspect dumps a writer's journaled history cache for
// offline inspection, without standing up a full endpoint.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/fxamacker/cbor/v2"
	"github.com/ugorji/go/codec"

	"github.com/katzenpost/rtpscore/cache"
	"github.com/katzenpost/rtpscore/guid"
)

// changeRecord is one journaled sample, flattened for serialization.
type changeRecord struct {
	SequenceNumber uint64    `cbor:"sequence_number" codec:"sequence_number"`
	Kind           string    `cbor:"kind" codec:"kind"`
	InstanceHandle string    `cbor:"instance_handle" codec:"instance_handle"`
	DataLength     int       `cbor:"data_length" codec:"data_length"`
}

// secureWrapping is the top-level envelope rtpsinspect emits: a stand-in
// for how a change would be carried inside a SecurePayload submessage,
// useful for eyeballing what a security plugin would see on the wire.
type secureWrapping struct {
	WriterGuid string         `cbor:"writer_guid" codec:"writer_guid"`
	Changes    []changeRecord `cbor:"changes" codec:"changes"`
}

func kindName(k cache.ChangeKind) string {
	switch k {
	case cache.Alive:
		return "alive"
	case cache.NotAliveDisposed:
		return "not_alive_disposed"
	case cache.NotAliveUnregistered:
		return "not_alive_unregistered"
	default:
		return "unknown"
	}
}

func main() {
	versioninfo.AddFlag(nil)

	var journalPath string
	var writerHex string
	var format string
	flag.StringVar(&journalPath, "journal", "", "path to the writer's bbolt journal file")
	flag.StringVar(&writerHex, "writer", "", "writer GUID, hex encoded (16 bytes)")
	flag.StringVar(&format, "format", "cbor", "output encoding: cbor or msgpack")
	flag.Parse()

	if journalPath == "" || writerHex == "" {
		fmt.Fprintln(os.Stderr, "rtpsinspect: -journal and -writer are required")
		flag.Usage()
		os.Exit(2)
	}

	writerBytes, err := hex.DecodeString(writerHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtpsinspect: decoding -writer: %s\n", err)
		os.Exit(1)
	}
	writerGuid, err := guid.FromBytes(writerBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtpsinspect: parsing -writer: %s\n", err)
		os.Exit(1)
	}

	journal, err := cache.OpenJournal(journalPath, writerGuid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtpsinspect: opening journal: %s\n", err)
		os.Exit(1)
	}
	defer journal.Close()

	hc := cache.New()
	if err := journal.Replay(writerGuid, hc.Add); err != nil {
		fmt.Fprintf(os.Stderr, "rtpsinspect: replaying journal: %s\n", err)
		os.Exit(1)
	}

	wrapping := secureWrapping{WriterGuid: writerGuid.String()}
	hc.Ascending(writerGuid, func(cc *cache.CacheChange) {
		wrapping.Changes = append(wrapping.Changes, changeRecord{
			SequenceNumber: uint64(cc.SequenceNumber),
			Kind:           kindName(cc.Kind),
			InstanceHandle: hex.EncodeToString(cc.InstanceHandle[:]),
			DataLength:     len(cc.DataValue),
		})
	})

	var out []byte
	switch format {
	case "cbor":
		out, err = cbor.Marshal(wrapping)
	case "msgpack":
		var mh codec.MsgpackHandle
		var buf []byte
		enc := codec.NewEncoderBytes(&buf, &mh)
		err = enc.Encode(wrapping)
		out = buf
	default:
		fmt.Fprintf(os.Stderr, "rtpsinspect: unknown -format %q\n", format)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtpsinspect: encoding output: %s\n", err)
		os.Exit(1)
	}

	if _, err := os.Stdout.Write(out); err != nil {
		fmt.Fprintf(os.Stderr, "rtpsinspect: writing output: %s\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "rtpsinspect: %d changes dumped at %s\n", len(wrapping.Changes), time.Now().Format(time.RFC3339))
}
