package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// ErrNoListeners indicates Run was called without any listeners.
var ErrNoListeners = errors.New("discovery run: no listeners provided")

// DiscoveryReceiver reads UDP discovery datagrams from one or more
// Listeners, applies the full validation chain, and hands
// well-formed Hellos to the externally supplied MessageHandlers.
type DiscoveryReceiver struct {
	handlers ldp.MessageHandlers
	ifaces   ldp.InterfaceTable
	metrics  ldp.Metrics
	logger   *slog.Logger
}

// NewDiscoveryReceiver builds a receiver routing Hellos to handlers,
// consulting ifaces for per-interface address-family enablement.
func NewDiscoveryReceiver(handlers ldp.MessageHandlers, ifaces ldp.InterfaceTable, metrics ldp.Metrics, logger *slog.Logger) *DiscoveryReceiver {
	if metrics == nil {
		metrics = ldp.NoopMetrics{}
	}
	return &DiscoveryReceiver{
		handlers: handlers,
		ifaces:   ifaces,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "netio.discovery")),
	}
}

// Run reads from every listener concurrently until ctx is cancelled.
func (r *DiscoveryReceiver) Run(ctx context.Context, listeners ...*Listener) error {
	if len(listeners) == 0 {
		return fmt.Errorf("discovery: %w", ErrNoListeners)
	}

	done := make(chan struct{}, len(listeners))
	for _, ln := range listeners {
		go func(l *Listener) {
			r.recvLoop(ctx, l)
			done <- struct{}{}
		}(ln)
	}
	for range len(listeners) {
		<-done
	}
	return nil
}

func (r *DiscoveryReceiver) recvLoop(ctx context.Context, ln *Listener) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, meta, err := ln.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("recv error", slog.String("error", err.Error()))
			continue
		}
		r.process(raw, meta)
		ReleaseBuf(raw)
	}
}

// process applies the §4.4 validation chain to one already-received
// datagram and, on success, calls RecvHello exactly once.
func (r *DiscoveryReceiver) process(raw []byte, meta PacketMeta) {
	if !meta.SrcAddr.IsValid() || meta.SrcAddr.IsLoopback() || meta.SrcAddr.IsUnspecified() {
		r.drop("bad_source_addr")
		return
	}

	af := ldp.AddressFamilyOf(meta.SrcAddr)
	var iface ldp.Interface

	if meta.Multicast() {
		var ok bool
		iface, ok = r.ifaces.FindByIndex(meta.IfIndex)
		if !ok {
			r.drop("unknown_interface")
			return
		}
		if !iface.AddressFamilyEnabled(af) {
			r.drop("address_family_disabled")
			return
		}
		if af == ldp.AddressFamilyIPv6 && !meta.SrcAddr.IsLinkLocalUnicast() {
			r.drop("non_link_local_ipv6_source")
			return
		}
	}

	datagramLen := len(raw)
	if datagramLen < ldp.HdrSize+ldp.MsgHdrSize || datagramLen > ldp.MaxPDULen {
		r.drop("bad_datagram_len")
		return
	}

	hdr, err := ldp.DecodePDUHeader(raw)
	if err != nil {
		r.drop("bad_pdu_header")
		return
	}
	if err := ldp.ValidateDiscoveryHeader(hdr, datagramLen); err != nil {
		r.drop("bad_pdu_header")
		return
	}

	msgHdr, err := ldp.DecodeMessageHeader(raw[ldp.HdrSize:])
	if err != nil {
		r.drop("bad_message_header")
		return
	}
	remainingPDULen := hdr.Length + 4 - ldp.HdrSize
	if err := ldp.ValidateMessageLength(msgHdr.Length, remainingPDULen); err != nil {
		r.drop("bad_message_len")
		return
	}
	if msgHdr.Type() != ldp.MsgTypeHello {
		r.logger.Debug("discovery datagram is not a Hello, dropping",
			slog.String("msg_type", msgHdr.Type().String()))
		r.drop("not_hello")
		return
	}

	payloadStart := ldp.HdrSize + ldp.MsgHdrSize
	payloadEnd := ldp.HdrSize + int(msgHdr.Length) + 4
	if payloadEnd > len(raw) {
		r.drop("bad_message_len")
		return
	}
	payload := raw[payloadStart:payloadEnd]

	if err := r.handlers.RecvHello(hdr.LSRID, msgHdr, af, meta.SrcAddr, iface, meta.Multicast(), payload); err != nil {
		r.logger.Debug("RecvHello returned error", slog.String("error", err.Error()))
	}
}

func (r *DiscoveryReceiver) drop(reason string) {
	r.metrics.IncDiscoveryDropped(reason)
	r.logger.Debug("dropping discovery datagram", slog.String("reason", reason))
}

