package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/okian/vault/internal/adapters/keyring"
	"github.com/okian/vault/internal/adapters/webcrypto"
	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/pkg/logger"
)

const (
	sessionGap      = 30 * time.Minute
	mobileShare     = 0.3
	referrerShare   = 0.4
	pageloadMinMs   = 50
	pageloadRangeMs = 950
)

var (
	sites     = []string{"https://www.example.com", "https://shop.example.com"}
	paths     = []string{"/", "/about", "/pricing", "/blog", "/blog/encryption", "/contact"}
	campaigns = []string{"", "", "", "?utm_campaign=launch&utm_source=newsletter", "?utm_source=ads"}
	referrers = []string{"https://news.example.org/", "https://search.example.net/?q=vault", "https://social.example.io/post/1"}
)

type user struct {
	secretID string
	jwk      []byte
	session  string
	lastSeen time.Time
}

// Generator produces encrypted traffic and stores account keys in a key
// ring so the service can decrypt it.
type Generator struct {
	keys   *keyring.Keyring
	rng    *rand.Rand
	logger logger.Logger
}

// NewGenerator creates a generator writing account keys to keys.
func NewGenerator(keys *keyring.Keyring, seed uint64, l logger.Logger) *Generator {
	if l == nil {
		l = logger.Discard()
	}
	return &Generator{
		keys:   keys,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger: l,
	}
}

// Generate creates cfg.Accounts accounts with cfg.Users users each and
// cfg.Events pageviews per account, timestamped within cfg.Days before now.
func (g *Generator) Generate(ctx context.Context, cfg *Config, now time.Time) (*Traffic, error) {
	t := &Traffic{Accounts: make([]Account, 0, cfg.Accounts)}
	for i := 0; i < cfg.Accounts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		acc, err := g.account(cfg, now)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		g.logger.Info(ctx, "generated account",
			logger.String("accountId", acc.ID),
			logger.Int("secrets", len(acc.Secrets)),
			logger.Int("events", len(acc.Events)),
		)
		t.Accounts = append(t.Accounts, acc)
	}
	return t, nil
}

func (g *Generator) account(cfg *Config, now time.Time) (Account, error) {
	priv, pub, err := webcrypto.GenerateAccountKey()
	if err != nil {
		return Account{}, err
	}
	acc := Account{ID: uuid.NewString()}
	if err := g.keys.Put(acc.ID, priv); err != nil {
		return Account{}, err
	}

	users := make([]*user, cfg.Users)
	for i := range users {
		jwk, err := webcrypto.GenerateSecretKey()
		if err != nil {
			return Account{}, err
		}
		wrapped, err := webcrypto.EncryptAsymmetric(pub, jwk)
		if err != nil {
			return Account{}, err
		}
		users[i] = &user{secretID: uuid.NewString(), jwk: jwk}
		acc.Secrets = append(acc.Secrets, model.EncryptedSecret{SecretID: users[i].secretID, AccountID: acc.ID, Value: wrapped})
	}

	span := time.Duration(cfg.Days) * 24 * time.Hour
	stamps := make([]time.Time, cfg.Events)
	for i := range stamps {
		// Payload timestamps carry milliseconds only.
		stamps[i] = now.Add(-time.Duration(g.rng.Int64N(int64(span) + 1))).Truncate(time.Millisecond)
	}
	// Sessions are derived from consecutive visits, so walk time forwards.
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	site := sites[g.rng.IntN(len(sites))]
	for _, at := range stamps {
		ev, err := g.event(acc.ID, site, pub, users, cfg.Anonymous, at)
		if err != nil {
			return Account{}, err
		}
		acc.Events = append(acc.Events, ev)
		if !ev.Anonymous() {
			acc.Pageviews++
		}
	}
	return acc, nil
}

func (g *Generator) event(accountID, site string, pub []byte, users []*user, anonymous float64, at time.Time) (model.EncryptedEvent, error) {
	pv := model.Pageview{
		Href:      site + paths[g.rng.IntN(len(paths))] + campaigns[g.rng.IntN(len(campaigns))],
		Title:     "vault seed",
		Timestamp: model.FormatTimestamp(at),
		IsMobile:  g.rng.Float64() < mobileShare,
	}
	pageload := float64(pageloadMinMs + g.rng.IntN(pageloadRangeMs))
	pv.Pageload = &pageload

	ev := model.EncryptedEvent{
		EventID:   ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		AccountID: accountID,
		Timestamp: at,
	}

	var (
		plain []byte
		err   error
	)
	if len(users) == 0 || g.rng.Float64() < anonymous {
		// RSA-OAEP only fits a short plaintext.
		anon := model.Pageview{Timestamp: pv.Timestamp, Pageload: pv.Pageload}
		if plain, err = json.Marshal(anon); err != nil {
			return ev, err
		}
		ev.Payload, err = webcrypto.EncryptAsymmetric(pub, plain)
		return ev, err
	}

	u := users[g.rng.IntN(len(users))]
	if u.session == "" || at.Sub(u.lastSeen) > sessionGap {
		u.session = uuid.NewString()
		if g.rng.Float64() < referrerShare {
			pv.Referrer = referrers[g.rng.IntN(len(referrers))]
		}
	}
	u.lastSeen = at
	pv.SessionID = u.session

	if plain, err = json.Marshal(pv); err != nil {
		return ev, err
	}
	ev.SecretID = u.secretID
	ev.Payload, err = webcrypto.EncryptSymmetric(u.jwk, plain)
	return ev, err
}
