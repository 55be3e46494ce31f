package pgwire

// Query runs one or more SQL statements in a single round trip.
type Query struct {
	String string
}

func (*Query) Frontend() {}

func (dst *Query) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.String = r.cstring()
	return r.finish("Query")
}

func (src *Query) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientQuery)
	dst = append(dst, src.String...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// Terminate is the client's orderly goodbye. The server closes the connection
// without replying.
type Terminate struct{}

func (*Terminate) Frontend() {}

func (dst *Terminate) Decode(data []byte) error {
	return decodeEmptyBody("Terminate", data)
}

func (src *Terminate) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgClientTerminate)
}
