package dnsmodel

import (
	"fmt"
	"net"
	"regexp"

	"github.com/hydraforge/rulerd/internal/dnswire"
)

// domainNameRe matches the CNAME/NS/PTR/SOA/SRV target-domain grammar:
// two or more dot-separated labels of lowercase letters, digits, hyphen and
// underscore, with an optional trailing dot. Matching is case-insensitive.
var domainNameRe = regexp.MustCompile(`(?i)^([a-z0-9_-]+\.)+[a-z0-9_-]+\.?$`)

var validCAATags = map[string]struct{}{
	"issue":     {},
	"issuewild": {},
	"iodef":     {},
}

// Record is a tagged variant over the resource-record types a Response can
// carry. Name and TTL are common to every variant; exactly one of the
// type-specific payload fields is populated, matching the constructor used.
type Record struct {
	Name string
	TTL  uint32
	Type dnswire.RecordType

	a     net.IP // TypeA: 4-byte form
	aaaa  net.IP // TypeAAAA: 16-byte form
	mx    dnswire.MXData
	txt   any // string, []string, or []byte
	cname string
	ns    string
	ptr   string
	soa   dnswire.SOAData
	srv   dnswire.SRVData
	caa   dnswire.CAAData
}

func validateDomain(field, name string) error {
	if !domainNameRe.MatchString(name) {
		return fmt.Errorf("%s: invalid domain name %q", field, name)
	}
	return nil
}

// NewA builds an A record from a dotted-quad IPv4 address string.
func NewA(name string, ttl uint32, addr string) (Record, error) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return Record{}, fmt.Errorf("A: invalid IPv4 address %q", addr)
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeA, a: ip.To4()}, nil
}

// NewAAAA builds an AAAA record from an IPv6 address string.
func NewAAAA(name string, ttl uint32, addr string) (Record, error) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() != nil {
		return Record{}, fmt.Errorf("AAAA: invalid IPv6 address %q", addr)
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeAAAA, aaaa: ip.To16()}, nil
}

// NewMX builds an MX record. Priority defaults to 10 when 0 is passed,
// the conventional default.
func NewMX(name string, ttl uint32, priority uint16, exchange string) (Record, error) {
	if err := validateDomain("MX exchange", exchange); err != nil {
		return Record{}, err
	}
	if priority == 0 {
		priority = 10
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeMX, mx: dnswire.MXData{Preference: priority, Exchange: exchange}}, nil
}

// NewTXT builds a TXT record. A string payload over 255 bytes is chunked
// into 255-byte character-strings by the wire encoder; a []string element
// over 255 bytes is rejected by the encoder, and []byte is written as raw
// RDATA. This constructor just validates the shape of the input.
func NewTXT(name string, ttl uint32, text any) (Record, error) {
	switch text.(type) {
	case string, []string, []byte:
	default:
		return Record{}, fmt.Errorf("TXT: data must be string, []string, or []byte, got %T", text)
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeTXT, txt: text}, nil
}

// NewCNAME builds a CNAME record.
func NewCNAME(name string, ttl uint32, target string) (Record, error) {
	if err := validateDomain("CNAME target", target); err != nil {
		return Record{}, err
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeCNAME, cname: target}, nil
}

// NewNS builds an NS record.
func NewNS(name string, ttl uint32, target string) (Record, error) {
	if err := validateDomain("NS target", target); err != nil {
		return Record{}, err
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeNS, ns: target}, nil
}

// NewPTR builds a PTR record.
func NewPTR(name string, ttl uint32, target string) (Record, error) {
	if err := validateDomain("PTR target", target); err != nil {
		return Record{}, err
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypePTR, ptr: target}, nil
}

// NewSOA builds a Start of Authority record.
func NewSOA(name string, ttl uint32, soa dnswire.SOAData) (Record, error) {
	if err := validateDomain("SOA mname", soa.MName); err != nil {
		return Record{}, err
	}
	if err := validateDomain("SOA rname", soa.RName); err != nil {
		return Record{}, err
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeSOA, soa: soa}, nil
}

// NewSRV builds a service locator record.
func NewSRV(name string, ttl uint32, srv dnswire.SRVData) (Record, error) {
	if err := validateDomain("SRV target", srv.Target); err != nil {
		return Record{}, err
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeSRV, srv: srv}, nil
}

// NewCAA builds a Certification Authority Authorization record.
func NewCAA(name string, ttl uint32, caa dnswire.CAAData) (Record, error) {
	if _, ok := validCAATags[caa.Tag]; !ok {
		return Record{}, fmt.Errorf("CAA: tag must be one of issue, issuewild, iodef, got %q", caa.Tag)
	}
	return Record{Name: name, TTL: ttl, Type: dnswire.TypeCAA, caa: caa}, nil
}

// ToWire converts the Record to its internal/dnswire representation for
// marshaling onto the network.
func (r Record) ToWire() dnswire.Record {
	wr := dnswire.Record{Name: r.Name, Type: uint16(r.Type), Class: uint16(dnswire.ClassIN), TTL: r.TTL}
	switch r.Type {
	case dnswire.TypeA:
		wr.Data = []byte(r.a.To4())
	case dnswire.TypeAAAA:
		wr.Data = []byte(r.aaaa.To16())
	case dnswire.TypeMX:
		wr.Data = r.mx
	case dnswire.TypeTXT:
		wr.Data = r.txt
	case dnswire.TypeCNAME:
		wr.Data = r.cname
	case dnswire.TypeNS:
		wr.Data = r.ns
	case dnswire.TypePTR:
		wr.Data = r.ptr
	case dnswire.TypeSOA:
		wr.Data = r.soa
	case dnswire.TypeSRV:
		wr.Data = r.srv
	case dnswire.TypeCAA:
		wr.Data = r.caa
	}
	return wr
}

// FromWire converts a wire-level Record back into the validated Record type.
// Unknown or unparseable payloads surface as an error rather than a partially
// populated Record.
func FromWire(wr dnswire.Record) (Record, error) {
	switch dnswire.RecordType(wr.Type) {
	case dnswire.TypeA:
		b, ok := wr.Data.([]byte)
		if !ok || len(b) != 4 {
			return Record{}, fmt.Errorf("A: malformed wire payload")
		}
		return NewA(wr.Name, wr.TTL, net.IP(b).String())
	case dnswire.TypeAAAA:
		b, ok := wr.Data.([]byte)
		if !ok || len(b) != 16 {
			return Record{}, fmt.Errorf("AAAA: malformed wire payload")
		}
		return NewAAAA(wr.Name, wr.TTL, net.IP(b).String())
	case dnswire.TypeMX:
		mx, ok := wr.Data.(dnswire.MXData)
		if !ok {
			return Record{}, fmt.Errorf("MX: malformed wire payload")
		}
		return NewMX(wr.Name, wr.TTL, mx.Preference, mx.Exchange)
	case dnswire.TypeTXT:
		return NewTXT(wr.Name, wr.TTL, wr.Data)
	case dnswire.TypeCNAME:
		s, _ := wr.Data.(string)
		return NewCNAME(wr.Name, wr.TTL, s)
	case dnswire.TypeNS:
		s, _ := wr.Data.(string)
		return NewNS(wr.Name, wr.TTL, s)
	case dnswire.TypePTR:
		s, _ := wr.Data.(string)
		return NewPTR(wr.Name, wr.TTL, s)
	case dnswire.TypeSOA:
		soa, ok := wr.Data.(dnswire.SOAData)
		if !ok {
			return Record{}, fmt.Errorf("SOA: malformed wire payload")
		}
		return NewSOA(wr.Name, wr.TTL, soa)
	case dnswire.TypeSRV:
		srv, ok := wr.Data.(dnswire.SRVData)
		if !ok {
			return Record{}, fmt.Errorf("SRV: malformed wire payload")
		}
		return NewSRV(wr.Name, wr.TTL, srv)
	case dnswire.TypeCAA:
		caa, ok := wr.Data.(dnswire.CAAData)
		if !ok {
			return Record{}, fmt.Errorf("CAA: malformed wire payload")
		}
		return NewCAA(wr.Name, wr.TTL, caa)
	default:
		return Record{}, fmt.Errorf("unsupported record type %d", wr.Type)
	}
}
