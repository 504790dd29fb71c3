package protocol

import "github.com/spop-protocol/spop/pkg/spopbuf"

// Predefined keys used in HELLO and DISCONNECT frames.
const (
	KeySupportedVersions = "supported-versions"
	KeyVersion           = "version"
	KeyMaxFrameSize      = "max-frame-size"
	KeyCapabilities      = "capabilities"
	KeyEngineID          = "engine-id"
	KeyHealthcheck       = "healthcheck"
	KeyStatusCode        = "status-code"
	KeyMessage           = "message"
)

// KV is one key/typed-value pair of a KV-list.
type KV struct {
	Key   string
	Value Value
}

// KVList is an ordered key/typed-value mapping. HELLO and DISCONNECT frame
// payloads are KV-lists running to the end of the frame; message arguments
// are KV-lists with an explicit count. Keys are unique within a frame.
type KVList []KV

func (l KVList) encode(b *spopbuf.Buffer) {
	for _, kv := range l {
		b.WriteString(kv.Key)
		kv.Value.encode(b)
	}
}

// decodeKVList reads key/value pairs until the reader is exhausted.
func decodeKVList(r *spopbuf.Reader) (KVList, error) {
	var list KVList
	for r.Remaining() > 0 {
		key, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		value, err := DecodeValue(r)
		if err != nil {
			return nil, err
		}
		list = append(list, KV{Key: key, Value: value})
	}
	return list, nil
}

// decodeKVArgs reads exactly count key/value pairs.
func decodeKVArgs(r *spopbuf.Reader, count int) (KVList, error) {
	if count == 0 {
		return nil, nil
	}
	list := make(KVList, 0, count)
	for i := 0; i < count; i++ {
		key, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		value, err := DecodeValue(r)
		if err != nil {
			return nil, err
		}
		list = append(list, KV{Key: key, Value: value})
	}
	return list, nil
}

// Get returns the value for key, or nil if absent.
func (l KVList) Get(key string) Value {
	for _, kv := range l {
		if kv.Key == key {
			return kv.Value
		}
	}
	return nil
}

// String returns the string value for key.
func (l KVList) String(key string) (string, bool) {
	if s, ok := l.Get(key).(String); ok {
		return string(s), true
	}
	return "", false
}

// Bool returns the boolean value for key.
func (l KVList) Bool(key string) (bool, bool) {
	if b, ok := l.Get(key).(Bool); ok {
		return bool(b), true
	}
	return false, false
}

// Uint returns the value for key as a uint64, accepting any of the four
// integer kinds the peer may choose for a numeric item.
func (l KVList) Uint(key string) (uint64, bool) {
	switch v := l.Get(key).(type) {
	case Int32:
		return uint64(v), true
	case Uint32:
		return uint64(v), true
	case Int64:
		return uint64(v), true
	case Uint64:
		return uint64(v), true
	default:
		return 0, false
	}
}
