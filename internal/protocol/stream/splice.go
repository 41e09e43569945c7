package stream

import (
	"fmt"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/message"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

// Splice deep-copies PDUs [begin, end) of src into s, converting each to host order through its
// type operations. end is clamped to src.Len(), so a range past the last PDU copies only what
// exists and begin == end copies nothing from any message. It returns the number of PDUs and
// payload bytes appended. A failure part way leaves the stream broken.
func (s *Stream) Splice(src *message.Message, begin, end int) (int, uint32, error) {
	if err := s.ready(); err != nil {
		return 0, 0, err
	}
	if begin < 0 || begin > end {
		return 0, 0, fmt.Errorf("%w: splice range [%d,%d) of %d pdus", protocol.ErrInvalidArgument, begin, end, src.Len())
	}
	end = min(end, src.Len())
	if begin >= end {
		return 0, 0, nil
	}
	var n int
	var bytes uint32
	for i := begin; i < end; i++ {
		p, err := s.copyPDU(src, i)
		if err == nil {
			size := p.Tag.Size
			if err = s.Append(p); err == nil {
				n++
				bytes += size
				continue
			}
		}
		s.broken = true
		return n, bytes, fmt.Errorf("splice pdu %d: %w", i, err)
	}
	return n, bytes, nil
}

func (s *Stream) copyPDU(src *message.Message, i int) (*pdu.PDU, error) {
	tag, err := src.Tag(i)
	if err != nil {
		return nil, err
	}
	raw, err := src.Raw(i)
	if err != nil {
		return nil, err
	}
	var ops pdu.Operations
	if tag.Type == pdu.TypeStruct {
		name, err := src.StructName(i)
		if err != nil {
			return nil, err
		}
		schema, err := s.cat.Lookup(name)
		if err != nil {
			return nil, err
		}
		ops = schema.Operations()
	} else if ops, err = pdu.OperationsFor(tag.Type); err != nil {
		return nil, err
	}
	p := pdu.NewWithOperations(ops)
	if err := ops.Copy(p, raw, src.SwapFlags()); err != nil {
		return nil, err
	}
	return p, nil
}
