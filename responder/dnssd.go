package responder

import (
	"strings"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/message"
	"github.com/joshuafuller/lantern/internal/protocol"
)

// enumerationService is the meta-query name answered with one PTR per
// advertised service type (RFC 6763 §9).
const enumerationService = "_services._dns-sd._udp"

// Service describes one advertised DNS-SD service. The instance name is
// shared across services and configured on the Responder.
type Service struct {
	// Name is the service type, e.g. "_http._tcp".
	Name string

	// Priority, Weight and Port populate the SRV record (RFC 2782).
	Priority uint16
	Weight   uint16
	Port     uint16

	// Metadata lists the TXT record's key=value entries, emitted as
	// length-prefixed strings in registration order.
	Metadata []string
}

// instance returns the DNS-SD instance name, defaulting to the host name.
func (r *Responder) instance() string {
	if r.instanceName != "" {
		return r.instanceName
	}
	return r.hostname
}

// changeInstanceName renames the service instance after a conflict, with
// the same suffix rules as host renaming.
func (r *Responder) changeInstanceName() {
	renamed := renameLabel(r.instance(), protocol.DNSSDMaxInstanceNameLen)
	r.log.Debug().Str("old", r.instance()).Str("new", renamed).Msg("instance name conflict")
	r.instanceName = renamed
}

// RegisterService adds a service to the directory and probes its instance
// name before advertising it. The table is bounded; registration beyond
// the bound returns ErrOutOfResources.
func (r *Responder) RegisterService(svc Service) error {
	if svc.Name == "" || len(svc.Name) > protocol.DNSSDMaxServiceNameLen || !strings.HasPrefix(svc.Name, "_") {
		return lantern.ErrInvalidParameter
	}
	if metadataLen(svc.Metadata) > protocol.DNSSDMaxMetadataLen {
		return lantern.ErrInvalidParameter
	}

	r.s.Lock()
	defer r.s.Unlock()

	for _, existing := range r.services {
		if strings.EqualFold(existing.Name, svc.Name) {
			// Re-registration updates the record contents in place.
			*existing = svc
			if r.state == StateAnnouncing || r.state == StateIdle {
				r.restartProbing()
			}
			return nil
		}
	}

	if len(r.services) >= protocol.DNSSDServiceListSize {
		return lantern.ErrOutOfResources
	}
	s := svc
	r.services = append(r.services, &s)

	// A newly claimed instance name must be verified like a host name.
	if r.state == StateAnnouncing || r.state == StateIdle {
		r.restartProbing()
	}
	return nil
}

// UnregisterService withdraws a service: its records are taken back with a
// goodbye before removal.
func (r *Responder) UnregisterService(name string) error {
	r.s.Lock()
	defer r.s.Unlock()

	for i, svc := range r.services {
		if !strings.EqualFold(svc.Name, name) {
			continue
		}
		if r.state == StateAnnouncing || r.state == StateIdle {
			r.sendServiceGoodbye(svc)
		}
		r.services = append(r.services[:i], r.services[i+1:]...)
		return nil
	}
	return lantern.ErrInvalidParameter
}

// Services returns the registered service types.
func (r *Responder) Services() []string {
	r.s.Lock()
	defer r.s.Unlock()
	out := make([]string, len(r.services))
	for i, svc := range r.services {
		out[i] = svc.Name
	}
	return out
}

func metadataLen(entries []string) int {
	n := 0
	for _, e := range entries {
		n += len(e) + 1
	}
	return n
}

// addServiceRecords appends the full DNS-SD record set for every
// registered service: the service enumeration PTR, the per-service PTR,
// and the SRV and TXT records of the instance. PTR records are shared and
// never carry cache-flush.
func (r *Responder) addServiceRecords(b *message.Builder, cacheFlush bool, ttl uint32) {
	for _, svc := range r.services {
		r.addEnumerationPtrRecord(b, svc, ttl)
		r.addServicePtrRecord(b, svc, ttl)
		r.addServiceSrvRecord(b, svc, cacheFlush, ttl)
		r.addServiceTxtRecord(b, svc, cacheFlush, ttl)
	}
}

func (r *Responder) addEnumerationPtrRecord(b *message.Builder, svc *Service, ttl uint32) {
	if b.ContainsRecord(enumerationService, "", ".local", protocol.TypePTR) {
		return
	}
	rdata, err := message.EncodePTRData(svc.Name, "", ".local")
	if err != nil {
		return
	}
	_ = b.AppendRecord(message.SectionAnswer, enumerationService, "", ".local",
		protocol.TypePTR, protocol.ClassIN, ttl, rdata)
}

func (r *Responder) addServicePtrRecord(b *message.Builder, svc *Service, ttl uint32) {
	if b.ContainsRecord(svc.Name, "", ".local", protocol.TypePTR) {
		return
	}
	rdata, err := message.EncodePTRData(r.instance(), svc.Name, ".local")
	if err != nil {
		return
	}
	_ = b.AppendRecord(message.SectionAnswer, svc.Name, "", ".local",
		protocol.TypePTR, protocol.ClassIN, ttl, rdata)
}

func (r *Responder) addServiceSrvRecord(b *message.Builder, svc *Service, cacheFlush bool, ttl uint32) {
	if b.ContainsRecord(r.instance(), svc.Name, ".local", protocol.TypeSRV) {
		return
	}
	rdata, err := message.EncodeSRVData(svc.Priority, svc.Weight, svc.Port, r.hostname, "", ".local")
	if err != nil {
		return
	}
	_ = b.AppendRecord(message.SectionAnswer, r.instance(), svc.Name, ".local",
		protocol.TypeSRV, rclass(cacheFlush), ttl, rdata)
}

func (r *Responder) addServiceTxtRecord(b *message.Builder, svc *Service, cacheFlush bool, ttl uint32) {
	if b.ContainsRecord(r.instance(), svc.Name, ".local", protocol.TypeTXT) {
		return
	}
	rdata, err := message.EncodeTXTData(svc.Metadata)
	if err != nil {
		return
	}
	_ = b.AppendRecord(message.SectionAnswer, r.instance(), svc.Name, ".local",
		protocol.TypeTXT, rclass(cacheFlush), ttl, rdata)
}

// sendServiceGoodbye withdraws a single service's records with a zero-TTL
// announcement.
func (r *Responder) sendServiceGoodbye(svc *Service) {
	b := message.NewBuilder(protocol.MDNSMessageMaxSize, true)

	r.addServicePtrRecord(b, svc, 0)
	r.addServiceSrvRecord(b, svc, true, 0)
	r.addServiceTxtRecord(b, svc, true, 0)

	if b.ANCount() == 0 {
		return
	}
	if r.ifc.HasIPv4() {
		r.send(b, mdnsGroupV4())
	}
	if r.ifc.HasIPv6() {
		r.send(b, mdnsGroupV6())
	}
}

// parseServiceQuestion answers the DNS-SD questions: service enumeration,
// per-service browsing, and direct SRV/TXT lookups on the instance name.
func (r *Responder) parseServiceQuestion(msg []byte, q message.Question, b *message.Builder,
	cacheFlush bool, ttl uint32, shared *int) {

	if len(r.services) == 0 {
		return
	}

	// Service type enumeration meta-query (RFC 6763 §9).
	if q.Type == protocol.TypePTR || q.Type == protocol.TypeANY {
		if res, err := message.CompareServiceName(msg, q.NameOff, enumerationService, "", ".local"); err == nil && res == 0 {
			before := b.ANCount()
			for _, svc := range r.services {
				r.addEnumerationPtrRecord(b, svc, ttl)
			}
			*shared += b.ANCount() - before
		}
	}

	for _, svc := range r.services {
		// Browsing: "_http._tcp.local PTR" answers are members of a
		// shared record set.
		if q.Type == protocol.TypePTR || q.Type == protocol.TypeANY {
			if res, err := message.CompareServiceName(msg, q.NameOff, svc.Name, "", ".local"); err == nil && res == 0 {
				before := b.ANCount()
				r.addServicePtrRecord(b, svc, ttl)
				*shared += b.ANCount() - before
			}
		}

		// Direct instance lookups.
		if res, err := message.CompareServiceName(msg, q.NameOff, r.instance(), svc.Name, ".local"); err == nil && res == 0 {
			switch q.Type {
			case protocol.TypeSRV:
				r.addServiceSrvRecord(b, svc, cacheFlush, ttl)
			case protocol.TypeTXT:
				r.addServiceTxtRecord(b, svc, cacheFlush, ttl)
			case protocol.TypeANY:
				r.addServiceSrvRecord(b, svc, cacheFlush, ttl)
				r.addServiceTxtRecord(b, svc, cacheFlush, ttl)
			}
		}
	}
}

// addServiceAdditionals appends the SRV and TXT records behind a PTR
// answer (RFC 6763 §12.1).
func (r *Responder) addServiceAdditionals(b *message.Builder, rec message.Record, cacheFlush bool, ttl uint32) {
	for _, svc := range r.services {
		res, err := message.CompareServiceName(b.Bytes(), rec.NameOff, svc.Name, "", ".local")
		if err != nil || res != 0 {
			continue
		}
		r.addServiceSrvRecord(b, svc, cacheFlush, ttl)
		r.addServiceTxtRecord(b, svc, cacheFlush, ttl)
	}
}
