// Package octotest provides an in-process stand-in for the OCTO Telematics
// customer portal, used by the session, scraper and coordinator tests.
package octotest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	jsessionCookie = "JSESSIONID"
	authCookie     = "OCTOAUTH"
)

// LoginForm is the page served for login.jsp and for rejected logins.
const LoginForm = `<html><body>
<form method="post" action="login">
  <input type="text" name="UserName">
  <input type="password" name="UserPassword">
</form>
</body></html>`

// Portal is a fake portal backed by httptest.Server.
type Portal struct {
	Server   *httptest.Server
	Username string
	Password string

	mu           sync.Mutex
	statsHTML    string
	statsStatus  int
	loginStatus  int
	postStatus   int
	maxAge       int
	tokens       map[string]bool
	gate         chan struct{}
	nextToken    int
	loginHits    atomic.Int64
	statsHits    atomic.Int64
	statsEntered chan struct{}
}

// NewPortal starts a fake portal accepting username/password. It is closed
// when the test ends.
func NewPortal(t testing.TB, username, password string) *Portal {
	t.Helper()
	p := &Portal{
		Username:     username,
		Password:     password,
		statsHTML:    StatsPage("12345", "01/03/2024"),
		statsStatus:  http.StatusOK,
		loginStatus:  http.StatusOK,
		tokens:       make(map[string]bool),
		statsEntered: make(chan struct{}, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/octo/login.jsp", p.loginPage)
	mux.HandleFunc("/octo/login", p.login)
	mux.HandleFunc("/octo/clienti/home.jsp", p.home)
	mux.HandleFunc("/octo/clienti/consumiCustomer.jsp", p.stats)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// BaseURL is the portal root to configure the agent with.
func (p *Portal) BaseURL() string {
	return p.Server.URL + "/octo"
}

// SetStats replaces the statistics page body.
func (p *Portal) SetStats(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statsHTML = html
}

// SetStatsStatus makes the statistics page answer with code.
func (p *Portal) SetStatsStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statsStatus = code
}

// SetLoginPageStatus makes login.jsp answer with code.
func (p *Portal) SetLoginPageStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginStatus = code
}

// SetLoginPostStatus makes the login form post answer with code instead of
// processing the credentials. Zero restores normal behavior.
func (p *Portal) SetLoginPostStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postStatus = code
}

// SetSessionMaxAge makes successful logins set the auth cookie with the
// given Max-Age in seconds. Zero issues a browser-session cookie.
func (p *Portal) SetSessionMaxAge(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxAge = seconds
}

// ExpireSessions forgets every issued session, as a server-side timeout would.
func (p *Portal) ExpireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = make(map[string]bool)
}

// Hold makes statistics requests block until the returned release func is
// called.
func (p *Portal) Hold() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.gate = nil
			p.mu.Unlock()
			close(gate)
		})
	}
}

// StatsEntered receives one value each time a statistics request arrives,
// before any Hold gate is applied.
func (p *Portal) StatsEntered() <-chan struct{} {
	return p.statsEntered
}

// Logins returns how many login posts the portal has received.
func (p *Portal) Logins() int {
	return int(p.loginHits.Load())
}

// StatsRequests returns how many statistics requests the portal has received.
func (p *Portal) StatsRequests() int {
	return int(p.statsHits.Load())
}

func (p *Portal) loginPage(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	code := p.loginStatus
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: jsessionCookie, Value: "anon", Path: "/"})
	w.WriteHeader(code)
	_, _ = w.Write([]byte(LoginForm))
}

func (p *Portal) login(w http.ResponseWriter, r *http.Request) {
	p.loginHits.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	forced := p.postStatus
	p.mu.Unlock()
	if forced != 0 {
		w.WriteHeader(forced)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := r.Cookie(jsessionCookie); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("missing login page cookie"))
		return
	}
	if r.PostForm.Get("UserName") != p.Username || r.PostForm.Get("UserPassword") != p.Password {
		_, _ = w.Write([]byte(LoginForm))
		return
	}

	p.mu.Lock()
	p.nextToken++
	token := "t" + strconv.Itoa(p.nextToken)
	p.tokens[token] = true
	maxAge := p.maxAge
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: authCookie, Value: token, Path: "/", MaxAge: maxAge})
	http.Redirect(w, r, "/octo/clienti/home.jsp", http.StatusFound)
}

func (p *Portal) home(w http.ResponseWriter, r *http.Request) {
	if !p.authorised(r) {
		http.Redirect(w, r, "/octo/login.jsp", http.StatusFound)
		return
	}
	_, _ = w.Write([]byte(`<html><body><h1>Benvenuto</h1></body></html>`))
}

func (p *Portal) stats(w http.ResponseWriter, r *http.Request) {
	p.statsHits.Add(1)
	select {
	case p.statsEntered <- struct{}{}:
	default:
	}

	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	if !p.authorised(r) {
		http.Redirect(w, r, "/octo/login.jsp", http.StatusFound)
		return
	}

	p.mu.Lock()
	code, body := p.statsStatus, p.statsHTML
	p.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (p *Portal) authorised(r *http.Request) bool {
	c, err := r.Cookie(authCookie)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens[c.Value]
}

// StatsPage renders a statistics page in the portal's layout. An empty date
// omits the "AL:" cell pair entirely.
func StatsPage(km, date string) string {
	dateCells := ""
	if date != "" {
		dateCells = fmt.Sprintf(`<td class="inputMask">AL:</td><td class="inputMask">%s</td>`, date)
	}
	return fmt.Sprintf(`<html><body>
<div id="statPage1"><table><tr align="center"><td>KM TOTALI PERCORSI</td><td>999</td></tr></table></div>
<div id="statPage2">
  <table>
    <tr><td class="inputMask">DAL:</td><td class="inputMask">01/01/2024</td>%s</tr>
  </table>
  <table>
    <tr align="center"><td>KM PERCORSI IN CITTA</td><td>800</td></tr>
    <tr align="center"><td>KM TOTALI PERCORSI</td><td>%s</td></tr>
  </table>
</div>
</body></html>`, dateCells, km)
}
