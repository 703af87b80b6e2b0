package dnswire

import "testing"

func marshalQuery(t *testing.T, id uint16, flags uint16, names ...string) []byte {
	t.Helper()
	pkt := Packet{Header: Header{ID: id, Flags: flags}}
	for _, n := range names {
		pkt.Questions = append(pkt.Questions, Question{Name: n, Type: uint16(TypeA), Class: uint16(ClassIN)})
	}
	b, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestParseRequestBoundedRejectsResponse(t *testing.T) {
	msg := marshalQuery(t, 1, QRFlag, "example.com")
	if _, err := ParseRequestBounded(msg); err == nil {
		t.Fatalf("expected error for QR=1 packet")
	}
}

func TestParseRequestBoundedAcceptsMultiQuestion(t *testing.T) {
	// Question-count policy is the pipeline's job (REFUSED), not the
	// parser's; two questions must parse cleanly.
	msg := marshalQuery(t, 2, 0, "a.com", "b.com")
	p, err := ParseRequestBounded(msg)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(p.Questions) != 2 {
		t.Fatalf("got %d questions", len(p.Questions))
	}
}

func TestParseRequestBoundedRejectsTooManyQuestions(t *testing.T) {
	msg := marshalQuery(t, 3, 0, "a.com", "b.com", "c.com", "d.com", "e.com")
	if _, err := ParseRequestBounded(msg); err == nil {
		t.Fatalf("expected error for %d questions", MaxQuestions+1)
	}
}

func TestParseRequestBoundedRejectsOversizedMessage(t *testing.T) {
	msg := make([]byte, MaxIncomingDNSMessageSize+1)
	if _, err := ParseRequestBounded(msg); err == nil {
		t.Fatalf("expected error for oversized message")
	}
}

func TestBuildErrorResponse(t *testing.T) {
	req := Packet{
		Header:    Header{ID: 0xBEEF, Flags: RDFlag},
		Questions: []Question{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}},
	}

	resp := BuildErrorResponse(req, uint16(RCodeServFail))

	if resp.Header.ID != 0xBEEF {
		t.Fatalf("ID not preserved: %x", resp.Header.ID)
	}
	if resp.Header.Flags&QRFlag == 0 {
		t.Fatalf("QR flag not set")
	}
	if resp.Header.Flags&RDFlag == 0 {
		t.Fatalf("RD flag not preserved")
	}
	if RCodeFromFlags(resp.Header.Flags) != RCodeServFail {
		t.Fatalf("rcode = %d", RCodeFromFlags(resp.Header.Flags))
	}
	if len(resp.Answers) != 0 || resp.Header.ANCount != 0 {
		t.Fatalf("error response must carry no answers")
	}
	if len(resp.Questions) != 1 {
		t.Fatalf("question section not echoed")
	}
}
