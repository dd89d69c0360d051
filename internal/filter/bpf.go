// Package filter compiles tcpdump style capture filters to classic BPF and
// runs them in the x/net/bpf virtual machine.
//
// Only a conjunction of primitives is understood:
//
//	ip | ip6 | arp
//	tcp | udp | icmp | icmp6
//	[src|dst] host ADDR, src ADDR, dst ADDR
//	[src|dst] port N
//
// joined with "and" or "&&". Transport primitives apply to IPv4 unless the
// expression selects IPv6 through ip6, icmp6 or an IPv6 address.
package filter

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"

	"firestige.xyz/pktedit/internal/core"
	"firestige.xyz/pktedit/pkg/packet"
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeARP  = 0x0806

	ipProtoICMP   = 1
	ipProtoTCP    = 6
	ipProtoUDP    = 17
	ipProtoICMPv6 = 58
)

// BPF is a compiled capture filter.
type BPF struct {
	expr string
	link packet.LinkLayerType
	prog []bpf.RawInstruction
	vm   *bpf.VM
}

// Compile compiles expr for frames of the given link type. An empty
// expression accepts everything.
func Compile(expr string, link packet.LinkLayerType, snaplen int) (*BPF, error) {
	insns, err := compileInstructions(expr, link, snaplen)
	if err != nil {
		return nil, err
	}
	prog, err := bpf.Assemble(insns)
	if err != nil {
		return nil, fmt.Errorf("assemble filter %q: %w", expr, err)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("load filter %q: %w", expr, err)
	}
	return &BPF{expr: expr, link: link, prog: prog, vm: vm}, nil
}

// Matches reports whether data passes the filter.
func (f *BPF) Matches(data []byte) bool {
	n, err := f.vm.Run(data)
	return err == nil && n > 0
}

// String returns the source expression.
func (f *BPF) String() string { return f.expr }

// Program returns the assembled instructions.
func (f *BPF) Program() []bpf.RawInstruction { return f.prog }

// Validate reports whether expr compiles for link.
func Validate(expr string, link packet.LinkLayerType) error {
	_, err := compileInstructions(expr, link, 65535)
	return err
}

type primitive struct {
	kind string // family, proto, host, port
	dir  string // "", src, dst
	val  uint32
	addr net.IP
}

func parse(expr string) ([]primitive, error) {
	tokens := strings.Fields(strings.ToLower(expr))
	var prims []primitive
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case "and", "&&":
			continue
		case "ip":
			prims = append(prims, primitive{kind: "family", val: etherTypeIPv4})
		case "ip6":
			prims = append(prims, primitive{kind: "family", val: etherTypeIPv6})
		case "arp":
			prims = append(prims, primitive{kind: "family", val: etherTypeARP})
		case "tcp":
			prims = append(prims, primitive{kind: "proto", val: ipProtoTCP})
		case "udp":
			prims = append(prims, primitive{kind: "proto", val: ipProtoUDP})
		case "icmp":
			prims = append(prims, primitive{kind: "proto", val: ipProtoICMP})
		case "icmp6":
			prims = append(prims, primitive{kind: "family", val: etherTypeIPv6},
				primitive{kind: "proto", val: ipProtoICMPv6})
		case "src", "dst", "host", "port":
			p := primitive{}
			if tok == "src" || tok == "dst" {
				p.dir = tok
				i++
				if i >= len(tokens) {
					return nil, fmt.Errorf("%q: missing operand", tok)
				}
				tok = tokens[i]
			}
			switch tok {
			case "host", "port":
				i++
				if i >= len(tokens) {
					return nil, fmt.Errorf("%q: missing operand", tok)
				}
				p.kind = tok
			default:
				// "src ADDR" and "dst ADDR" imply host.
				if p.dir == "" {
					return nil, fmt.Errorf("unexpected token %q", tok)
				}
				p.kind = "host"
			}
			operand := tokens[i]
			if p.kind == "port" {
				port, err := strconv.ParseUint(operand, 10, 16)
				if err != nil {
					return nil, fmt.Errorf("invalid port %q", operand)
				}
				p.val = uint32(port)
			} else {
				p.addr = net.ParseIP(operand)
				if p.addr == nil {
					return nil, fmt.Errorf("invalid address %q", operand)
				}
			}
			prims = append(prims, p)
		default:
			return nil, fmt.Errorf("unsupported primitive %q", tok)
		}
	}
	return prims, nil
}

// family picks the network family the primitives refer to.
func family(prims []primitive) (uint32, error) {
	var fam uint32
	set := func(f uint32) error {
		if fam != 0 && fam != f {
			return fmt.Errorf("primitives select both %#04x and %#04x", fam, f)
		}
		fam = f
		return nil
	}
	for _, p := range prims {
		var err error
		switch {
		case p.kind == "family":
			err = set(p.val)
		case p.addr != nil && p.addr.To4() == nil:
			err = set(etherTypeIPv6)
		case p.addr != nil:
			err = set(etherTypeIPv4)
		}
		if err != nil {
			return 0, err
		}
	}
	if fam == 0 {
		fam = etherTypeIPv4
	}
	return fam, nil
}

// program collects instructions; jumps to the reject instruction are patched
// once the program is complete.
type program struct {
	insns        []bpf.Instruction
	rejectsTrue  []int
	rejectsFalse []int
}

func (p *program) emit(in ...bpf.Instruction) { p.insns = append(p.insns, in...) }

// require emits a comparison that rejects the packet when A != val.
func (p *program) require(val uint32) {
	p.rejectsFalse = append(p.rejectsFalse, len(p.insns))
	p.emit(bpf.JumpIf{Cond: bpf.JumpEqual, Val: val})
}

// rejectBits emits a test that rejects the packet when A & mask != 0.
func (p *program) rejectBits(mask uint32) {
	p.rejectsTrue = append(p.rejectsTrue, len(p.insns))
	p.emit(bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: mask})
}

func (p *program) finish(snaplen int) ([]bpf.Instruction, error) {
	p.emit(bpf.RetConstant{Val: uint32(snaplen)})
	reject := len(p.insns)
	p.emit(bpf.RetConstant{Val: 0})
	patch := func(idx []int, onTrue bool) error {
		for _, i := range idx {
			skip := reject - i - 1
			if skip > 255 {
				return fmt.Errorf("filter too long")
			}
			j := p.insns[i].(bpf.JumpIf)
			if onTrue {
				j.SkipTrue = uint8(skip)
			} else {
				j.SkipFalse = uint8(skip)
			}
			p.insns[i] = j
		}
		return nil
	}
	if err := patch(p.rejectsFalse, false); err != nil {
		return nil, err
	}
	if err := patch(p.rejectsTrue, true); err != nil {
		return nil, err
	}
	return p.insns, nil
}

// linkOffsets returns where the EtherType and the network header sit for
// link. raw is set for links that carry bare IP.
func linkOffsets(link packet.LinkLayerType) (etherType, l3 uint32, raw bool, err error) {
	switch link {
	case packet.LinkEthernet:
		return 12, 14, false, nil
	case packet.LinkLinuxSLL:
		return 14, 16, false, nil
	case packet.LinkRaw, packet.LinkIPv4, packet.LinkIPv6:
		return 0, 0, true, nil
	}
	return 0, 0, false, fmt.Errorf("filter on %s frames: %w", link, core.ErrUnsupportedLinkType)
}

func compileInstructions(expr string, link packet.LinkLayerType, snaplen int) ([]bpf.Instruction, error) {
	if snaplen <= 0 {
		snaplen = 65535
	}
	prims, err := parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", core.ErrInvalidArgument, expr, err)
	}
	if len(prims) == 0 {
		return []bpf.Instruction{bpf.RetConstant{Val: uint32(snaplen)}}, nil
	}
	fam, err := family(prims)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", core.ErrInvalidArgument, expr, err)
	}
	etOff, l3, raw, err := linkOffsets(link)
	if err != nil {
		return nil, err
	}

	var p program
	switch {
	case raw && fam == etherTypeARP:
		return nil, fmt.Errorf("%w: filter %q: arp needs a link-layer header", core.ErrInvalidArgument, expr)
	case raw:
		p.emit(bpf.LoadAbsolute{Off: 0, Size: 1}, bpf.ALUOpConstant{Op: bpf.ALUOpShiftRight, Val: 4})
		if fam == etherTypeIPv6 {
			p.require(6)
		} else {
			p.require(4)
		}
	default:
		p.emit(bpf.LoadAbsolute{Off: etOff, Size: 2})
		p.require(fam)
	}
	if fam == etherTypeARP {
		for _, prim := range prims {
			if prim.kind != "family" {
				return nil, fmt.Errorf("%w: filter %q: arp takes no further primitives", core.ErrInvalidArgument, expr)
			}
		}
		return p.finish(snaplen)
	}

	v6 := fam == etherTypeIPv6
	for _, prim := range prims {
		switch prim.kind {
		case "proto":
			compileProto(&p, l3, v6, prim.val)
		case "host":
			compileHost(&p, l3, v6, prim)
		case "port":
			compilePort(&p, l3, v6, prim)
		}
	}
	return p.finish(snaplen)
}

func compileProto(p *program, l3 uint32, v6 bool, proto uint32) {
	if v6 {
		p.emit(bpf.LoadAbsolute{Off: l3 + 6, Size: 1})
	} else {
		p.emit(bpf.LoadAbsolute{Off: l3 + 9, Size: 1})
	}
	p.require(proto)
}

func compileHost(p *program, l3 uint32, v6 bool, prim primitive) {
	if !v6 {
		addr := binary.BigEndian.Uint32(prim.addr.To4())
		switch prim.dir {
		case "src":
			p.emit(bpf.LoadAbsolute{Off: l3 + 12, Size: 4})
			p.require(addr)
		case "dst":
			p.emit(bpf.LoadAbsolute{Off: l3 + 16, Size: 4})
			p.require(addr)
		default:
			p.emit(
				bpf.LoadAbsolute{Off: l3 + 12, Size: 4},
				bpf.JumpIf{Cond: bpf.JumpEqual, Val: addr, SkipTrue: 2},
				bpf.LoadAbsolute{Off: l3 + 16, Size: 4},
			)
			p.require(addr)
		}
		return
	}

	ip := prim.addr.To16()
	words := [4]uint32{}
	for i := range words {
		words[i] = binary.BigEndian.Uint32(ip[i*4:])
	}
	switch prim.dir {
	case "src":
		requireWords(p, l3+8, words)
	case "dst":
		requireWords(p, l3+24, words)
	default:
		// Source block: any mismatch falls through to the destination
		// block, a full match skips it.
		for i, w := range words {
			in := bpf.JumpIf{Cond: bpf.JumpEqual, Val: w, SkipFalse: uint8(6 - 2*i)}
			if i == 3 {
				in = bpf.JumpIf{Cond: bpf.JumpEqual, Val: w, SkipTrue: 8}
			}
			p.emit(bpf.LoadAbsolute{Off: l3 + 8 + uint32(i*4), Size: 4}, in)
		}
		requireWords(p, l3+24, words)
	}
}

func requireWords(p *program, off uint32, words [4]uint32) {
	for i, w := range words {
		p.emit(bpf.LoadAbsolute{Off: off + uint32(i*4), Size: 4})
		p.require(w)
	}
}

func compilePort(p *program, l3 uint32, v6 bool, prim primitive) {
	if v6 {
		p.emit(bpf.LoadAbsolute{Off: l3 + 6, Size: 1},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: ipProtoTCP, SkipTrue: 1})
		p.require(ipProtoUDP)
		switch prim.dir {
		case "src":
			p.emit(bpf.LoadAbsolute{Off: l3 + 40, Size: 2})
			p.require(prim.val)
		case "dst":
			p.emit(bpf.LoadAbsolute{Off: l3 + 42, Size: 2})
			p.require(prim.val)
		default:
			p.emit(
				bpf.LoadAbsolute{Off: l3 + 40, Size: 2},
				bpf.JumpIf{Cond: bpf.JumpEqual, Val: prim.val, SkipTrue: 2},
				bpf.LoadAbsolute{Off: l3 + 42, Size: 2},
			)
			p.require(prim.val)
		}
		return
	}

	// Ports live in the first fragment only; X holds the IPv4 header length.
	p.emit(bpf.LoadAbsolute{Off: l3 + 9, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: ipProtoTCP, SkipTrue: 1})
	p.require(ipProtoUDP)
	p.emit(bpf.LoadAbsolute{Off: l3 + 6, Size: 2})
	p.rejectBits(0x1FFF)
	p.emit(bpf.LoadMemShift{Off: l3})
	switch prim.dir {
	case "src":
		p.emit(bpf.LoadIndirect{Off: l3, Size: 2})
		p.require(prim.val)
	case "dst":
		p.emit(bpf.LoadIndirect{Off: l3 + 2, Size: 2})
		p.require(prim.val)
	default:
		p.emit(
			bpf.LoadIndirect{Off: l3, Size: 2},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: prim.val, SkipTrue: 2},
			bpf.LoadIndirect{Off: l3 + 2, Size: 2},
		)
		p.require(prim.val)
	}
}
