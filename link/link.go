// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package link binds a shared memory window and a mailbox pair into
// two processor endpoints, the GPP one and the DSP one.
// Message queue transports, channels and the processor manager are built on endpoints.
package link

import (
	"sync"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/ips"
	"github.com/nxgtw/go-dsplink/mailbox"
	"github.com/nxgtw/go-dsplink/shm"

	"github.com/pkg/errors"
)

// DefaultIntType is the doorbell interrupt configuration used by the link.
var DefaultIntType = mailbox.IntType{Level: 1, Priority: 4, EdgeSensitive: false}

// Link is a shared window with its signaling.
type Link struct {
	cfg       dsplink.Config
	region    *shm.Region
	ctrl      *Control
	mailboxes [dsplink.MaxProcessors]*mailbox.Mailbox
	endpoints [dsplink.MaxProcessors]*Endpoint
	closeOnce sync.Once
}

// New maps the window described by cfg and creates endpoints for the GPP and the DSP.
func New(cfg dsplink.Config) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout, err := shm.NewLayout(shm.ConfigFrom(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "link: invalid layout")
	}
	region, err := shm.Map(layout)
	if err != nil {
		return nil, err
	}
	l := &Link{cfg: cfg, region: region, ctrl: newControl(region.Area(shm.DrvCtrl))}
	l.ctrl.init()
	// the incoming line of the dsp (id 0) is placed first.
	dspMb, gppMb, err := mailbox.NewPair(region.Area(shm.IpsCtrl), cfg.PeerTimeout)
	if err != nil {
		region.Close()
		return nil, errors.Wrap(err, "link: failed to create mailboxes")
	}
	l.mailboxes[dsplink.IDDsp], l.mailboxes[dsplink.IDGpp] = dspMb, gppMb
	for id := range l.endpoints {
		l.endpoints[id] = &Endpoint{
			id:   id,
			peer: peerOf(id),
			link: l,
			mb:   l.mailboxes[id],
			ips:  ips.New(l.mailboxes[id], DefaultIntType),
		}
	}
	return l, nil
}

func peerOf(id int) int {
	if id == dsplink.IDGpp {
		return dsplink.IDDsp
	}
	return dsplink.IDGpp
}

// Config returns the link configuration.
func (l *Link) Config() dsplink.Config {
	return l.cfg
}

// Region returns the shared window.
func (l *Link) Region() *shm.Region {
	return l.region
}

// Control returns the driver control block.
func (l *Link) Control() *Control {
	return l.ctrl
}

// Endpoint returns the endpoint of the processor.
func (l *Link) Endpoint(procID int) (*Endpoint, error) {
	if procID < 0 || procID >= dsplink.MaxProcessors {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "link: invalid processor id %d", procID)
	}
	return l.endpoints[procID], nil
}

// Gpp returns the GPP endpoint.
func (l *Link) Gpp() *Endpoint {
	return l.endpoints[dsplink.IDGpp]
}

// Dsp returns the DSP endpoint.
func (l *Link) Dsp() *Endpoint {
	return l.endpoints[dsplink.IDDsp]
}

// Close stops signaling and unmaps the window.
// Components built on the endpoints must be closed before.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		for _, ep := range l.endpoints {
			ep.ips.Close()
		}
		for _, mb := range l.mailboxes {
			mb.Close()
		}
		err = l.region.Close()
	})
	return err
}

// Endpoint is the view of the link from one processor.
type Endpoint struct {
	id, peer int
	link     *Link
	mb       *mailbox.Mailbox
	ips      *ips.IPS
}

// ID returns the processor id of the endpoint.
func (ep *Endpoint) ID() int {
	return ep.id
}

// Peer returns the processor id of the other side.
func (ep *Endpoint) Peer() int {
	return ep.peer
}

// IsGpp returns true for the GPP endpoint.
func (ep *Endpoint) IsGpp() bool {
	return ep.id == dsplink.IDGpp
}

// Config returns the link configuration.
func (ep *Endpoint) Config() dsplink.Config {
	return ep.link.cfg
}

// Area returns the memory of a shared sub-region.
func (ep *Endpoint) Area(id shm.RegionID) []byte {
	return ep.link.region.Area(id)
}

// Control returns the driver control block.
func (ep *Endpoint) Control() *Control {
	return ep.link.ctrl
}

// IPS returns the signaling of the endpoint.
func (ep *Endpoint) IPS() *ips.IPS {
	return ep.ips
}

// Mailbox returns the raw mailbox of the endpoint.
func (ep *Endpoint) Mailbox() *mailbox.Mailbox {
	return ep.mb
}

// Ready reports to the peer, that this processor has finished its initialization.
func (ep *Endpoint) Ready() {
	ep.link.ctrl.SetReady(ep.id, true)
}
