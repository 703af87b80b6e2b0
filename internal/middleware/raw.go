package middleware

import (
	"fmt"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
	"github.com/hydraforge/rulerd/internal/dnswire"
)

// RawNext is the continuation a RawMiddleware calls to proceed down the
// raw chain. The terminal RawNext of a raw chain is ordinarily the
// raw-to-query adaptor built by QueryAdaptor.
type RawNext func(*dnswire.Packet) (*dnswire.Packet, error)

// RawMiddleware operates on a whole wire-level Packet, below the
// raw/decoded boundary. Used for concerns that need the original message,
// such as an EDNS cookie check or traffic shaping, rather than the
// decoded Query/Response model.
type RawMiddleware func(*dnswire.Packet, RawNext) (*dnswire.Packet, error)

// RawChain is the raw-layer analog of QueryChain.
type RawChain struct {
	mw     []RawMiddleware
	sealed bool
}

// NewRawChain builds an unsealed raw chain from mw, head first.
func NewRawChain(mw ...RawMiddleware) *RawChain {
	return &RawChain{mw: mw}
}

// Seal wires the chain onto terminal and returns the resulting head
// RawNext. A second call panics with ErrChainAlreadySealed.
func (c *RawChain) Seal(terminal RawNext) RawNext {
	if c.sealed {
		panic(ErrChainAlreadySealed)
	}
	c.sealed = true

	next := terminal
	for i := len(c.mw) - 1; i >= 0; i-- {
		mw := c.mw[i]
		downstream := next
		next = func(pkt *dnswire.Packet) (*dnswire.Packet, error) {
			return mw(pkt, downstream)
		}
	}
	return next
}

// RawExceptionHandlerFunc produces a reply Packet for an error encountered
// while processing pkt.
type RawExceptionHandlerFunc func(pkt *dnswire.Packet, err error) *dnswire.Packet

// RawExceptionHandler is the raw-chain analog of ExceptionHandler: its
// default handler builds an empty SERVFAIL reply rather than routing
// through the decoded Response model.
type RawExceptionHandler struct {
	classify       ClassifyError
	handlers       map[ErrorKind]RawExceptionHandlerFunc
	defaultHandler RawExceptionHandlerFunc
}

// NewRawExceptionHandler builds a RawExceptionHandler. classify may be nil.
func NewRawExceptionHandler(classify ClassifyError) *RawExceptionHandler {
	return &RawExceptionHandler{
		classify:       classify,
		handlers:       make(map[ErrorKind]RawExceptionHandlerFunc),
		defaultHandler: defaultRawExceptionHandler,
	}
}

func defaultRawExceptionHandler(pkt *dnswire.Packet, _ error) *dnswire.Packet {
	reply := dnswire.BuildErrorResponse(*pkt, uint16(dnswire.RCodeServFail))
	return &reply
}

// Register installs fn as the handler for kind.
func (h *RawExceptionHandler) Register(kind ErrorKind, fn RawExceptionHandlerFunc) {
	h.handlers[kind] = fn
}

func (h *RawExceptionHandler) resolve(pkt *dnswire.Packet, err error) *dnswire.Packet {
	if h.classify != nil {
		for _, kind := range h.classify(err) {
			if fn, ok := h.handlers[kind]; ok {
				return fn(pkt, err)
			}
		}
	}
	return h.defaultHandler(pkt, err)
}

// Middleware returns the RawMiddleware form of this handler, meant to sit
// at the head of a raw chain.
func (h *RawExceptionHandler) Middleware() RawMiddleware {
	return func(pkt *dnswire.Packet, next RawNext) (reply *dnswire.Packet, err error) {
		defer func() {
			if r := recover(); r != nil {
				panicErr, ok := r.(error)
				if !ok {
					panicErr = fmt.Errorf("middleware: recovered panic: %v", r)
				}
				reply = h.resolve(pkt, panicErr)
				err = nil
			}
		}()

		reply, chainErr := next(pkt)
		if chainErr != nil {
			return h.resolve(pkt, chainErr), nil
		}
		return reply, nil
	}
}

// QueryAdaptor builds the raw chain's terminal RawNext: it decodes the
// single question of an incoming Packet into a Query, invokes queryChain,
// and serializes the resulting Response back into a reply Packet. This is
// the raw-to-query boundary described by the wire protocol.
func QueryAdaptor(queryChain Next) RawNext {
	return func(pkt *dnswire.Packet) (*dnswire.Packet, error) {
		reply := &dnswire.Packet{Header: dnswire.Header{ID: pkt.Header.ID}}

		if dnswire.OpcodeFromFlags(pkt.Header.Flags) != dnswire.OpCodeQuery {
			reply.Header.Flags = dnswire.ReplyFlags(pkt.Header.Flags, dnswire.RCodeNotImp)
			return reply, nil
		}

		if len(pkt.Questions) != 1 {
			reply.Header.Flags = dnswire.ReplyFlags(pkt.Header.Flags, dnswire.RCodeRefused)
			return reply, nil
		}

		question := pkt.Questions[0]
		reply.Questions = []dnswire.Question{question}

		qtypeName := dnswire.RecordType(question.Type).Name()
		if qtypeName == "" {
			reply.Header.Flags = dnswire.ReplyFlags(pkt.Header.Flags, dnswire.RCodeFormErr)
			return reply, nil
		}

		query := dnsmodel.NewQuery(qtypeName, question.Name)
		resp, err := queryChain(query)
		if err != nil {
			return nil, err
		}

		reply.Header.Flags = dnswire.ReplyFlags(pkt.Header.Flags, resp.ErrorCode)
		reply.Answers = recordsToWire(resp.Answers)
		reply.Additionals = recordsToWire(resp.Additional)
		reply.Authorities = recordsToWire(resp.Authority)
		return reply, nil
	}
}

func recordsToWire(recs []dnsmodel.Record) []dnswire.Record {
	out := make([]dnswire.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToWire())
	}
	return out
}
