package protocol

import "github.com/spop-protocol/spop/pkg/spopbuf"

// Message is one named SPOE message carried in a NOTIFY frame.
//
// Wire layout:
//
//	<NAME:string> <NB-ARGS:1 byte> <KV-LIST:NB-ARGS pairs>
type Message struct {
	// Name of the message, as declared in the engine's spoe-message section.
	Name string
	// Args are the message arguments in declaration order.
	Args KVList
}

// Arg returns the value of the named argument, or nil if absent.
func (m *Message) Arg(name string) Value {
	return m.Args.Get(name)
}

func (m *Message) encode(b *spopbuf.Buffer) {
	b.WriteString(m.Name)
	b.WriteUint8(uint8(len(m.Args)))
	m.Args.encode(b)
}

// decodeMessages reads messages until the reader is exhausted.
func decodeMessages(r *spopbuf.Reader) ([]Message, error) {
	var msgs []Message
	for r.Remaining() > 0 {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		nbArgs, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		args, err := decodeKVArgs(r, int(nbArgs))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{Name: name, Args: args})
	}
	return msgs, nil
}
