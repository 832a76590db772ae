package crawl

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/dukepan/muclumbus/internal/address"
	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/store"
)

const (
	scannerPageSize = 100
	scannerMaxPages = 50 // defensive per-domain page cap

	// nonChatRescanDelay is spec.md §4.4's NON_CHAT_RESCAN_DELAY: a domain
	// already known not to be a chat service is skipped until this long
	// after its last scan.
	nonChatRescanDelay = 6 * time.Hour
)

// ScannerConfig configures the Scanner's periodic pass.
type ScannerConfig struct {
	Store       store.Store
	Client      chatclient.Client
	Analyser    *Analyser
	Logger      *obslog.Logger
	Limiter     *rate.Limiter // paces outbound disco requests (SPEC_FULL domain stack)
	ExpireAfter time.Duration // spec.md §4.4 step 3's EXPIRE_AFTER, default 7 days
}

// NewScanner builds the PeriodicJob that walks every known domain via
// disco#items, grounded on original_source/muchopper/bot/scanner.py,
// generalized to paginate disco#items in pages of 100 with a defensive
// page cap instead of the Python's single unbounded query_items call.
func NewScanner(cfg ScannerConfig) (*PeriodicJob, error) {
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 7 * 24 * time.Hour
	}
	s := &scanner{cfg: cfg}
	return NewPeriodicJob(PeriodicJobConfig{
		Name:         "scanner",
		Workers:      8,
		MinInterval:  time.Hour,
		ProcessDelay: 400 * time.Millisecond,
		Timeout:      60 * time.Second,
		Logger:       cfg.Logger,
		GetItems:     s.getItems,
		ProcessItem:  s.processItem,
		AfterPass:    s.afterPass,
	})
}

type scanner struct {
	cfg ScannerConfig
}

// getItems fetches the scannable-domain set, randomises order, and drops
// domains that are known non-chat-services and were scanned within
// nonChatRescanDelay (spec.md §4.4 steps 1-2's skip rule).
func (s *scanner) getItems(ctx context.Context) ([]string, error) {
	domains, err := s.cfg.Store.GetScannableDomains(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	items := make([]string, 0, len(domains))
	for _, d := range domains {
		if !d.IsChatService && d.LastSeen != nil && now.Sub(*d.LastSeen) < nonChatRescanDelay {
			continue
		}
		items = append(items, d.Domain)
	}

	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	return items, nil
}

func (s *scanner) wait(ctx context.Context) {
	if s.cfg.Limiter != nil {
		_ = s.cfg.Limiter.Wait(ctx)
	}
}

// processItem probes domain's top-level disco#info to decide whether it is
// itself a MUC domain (walk its rooms) or a plain domain (walk its
// sub-items for more domains to seed), translating
// Scanner._process_item/_process_muc_domain/_process_other_domain.
func (s *scanner) processItem(ctx context.Context, domain string) error {
	s.wait(ctx)
	info, err := s.cfg.Client.DiscoInfo(ctx, domain, false)
	if err != nil {
		return nil // transient remote failures are silently skipped, next pass retries
	}

	s.reconcileIdentity(ctx, domain, info)

	if hasFeature(info, nsMUC) {
		return s.processMUCDomain(ctx, domain)
	}
	return s.processOtherDomain(ctx, domain)
}

// reconcileIdentity queries the best-effort software version and reconciles
// domain_identity rows from the disco#info response, translating
// scanner.py's "query software version" + "reconcile identities via
// Store.update_domain" steps. Both are best-effort: a Version failure
// leaves the software_* columns untouched rather than failing the pass.
func (s *scanner) reconcileIdentity(ctx context.Context, domain string, info chatclient.DiscoInfo) {
	update := store.DomainUpdate{
		Identities: store.Some(toDomainIdentities(info)),
	}
	if v, err := s.cfg.Client.Version(ctx, domain); err == nil {
		if v.Name != "" {
			update.SoftwareName = store.Some(v.Name)
		}
		if v.Version != "" {
			update.SoftwareVersion = store.Some(v.Version)
		}
		if v.OS != "" {
			update.SoftwareOS = store.Some(v.OS)
		}
	}
	if err := s.cfg.Store.UpdateDomain(ctx, domain, update); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Warn(ctx, "failed to reconcile domain identity", "domain", domain, "error", err)
	}
}

func toDomainIdentities(info chatclient.DiscoInfo) []store.DomainIdentity {
	identities := make([]store.DomainIdentity, 0, len(info.Identities))
	for _, id := range info.Identities {
		identities = append(identities, store.DomainIdentity{Category: id.Category, Type: id.Type})
	}
	return identities
}

func (s *scanner) processMUCDomain(ctx context.Context, domain string) error {
	var after string
	for page := 0; page < scannerMaxPages; page++ {
		s.wait(ctx)
		items, err := s.cfg.Client.DiscoItems(ctx, domain, &chatclient.ResultSetPaging{Max: scannerPageSize, After: after})
		if err != nil {
			return nil
		}

		for _, item := range items.Items {
			if item.JID == "" {
				continue
			}
			if isRoomAddress(item.JID) {
				if _, found, _ := s.cfg.Store.GetAddressMetadata(ctx, item.JID); !found {
					_ = s.cfg.Analyser.SubmitNoWait(item.JID, true, nil)
				}
			} else {
				_, _ = s.cfg.Store.RequireDomain(ctx, item.JID, store.SeenLeave, 0)
			}
		}

		if len(items.Items) < scannerPageSize || items.RSM == nil || items.RSM.Last == "" {
			break
		}
		after = items.RSM.Last
	}
	return nil
}

func (s *scanner) processOtherDomain(ctx context.Context, domain string) error {
	items, err := s.cfg.Client.DiscoItems(ctx, domain, nil)
	if err != nil {
		return nil
	}
	for _, item := range items.Items {
		if !isRoomAddress(item.JID) {
			_, _ = s.cfg.Store.RequireDomain(ctx, item.JID, store.SeenLeave, -nonChatRescanDelay)
		}
	}
	return nil
}

// afterPass deletes domains that have gone stale (spec.md §4.4 step 3),
// translating Scanner's post-pass expire_domains call.
func (s *scanner) afterPass(ctx context.Context) error {
	threshold := time.Now().Add(-s.cfg.ExpireAfter)
	return s.cfg.Store.ExpireDomains(ctx, threshold)
}

// isRoomAddress reports whether addr has a localpart or resource, i.e. is
// not itself a bare domain (scanner.py's `address.localpart or
// address.resource` check).
func isRoomAddress(addr string) bool {
	parsed, err := address.Parse(addr)
	if err != nil {
		return false
	}
	return parsed.Localpart != "" || parsed.Resource != ""
}
