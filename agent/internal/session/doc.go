// Package session owns the OCTO Telematics portal login.
//
// Manager.Authenticate performs the two-step handshake (GET login.jsp for
// the initial cookies, then POST UserName/UserPassword to /login) and
// returns a cookie-jar backed Session. Manager.Ensure hands back the held
// session while IsValid holds and re-authenticates otherwise;
// Manager.Invalidate drops a session the portal has bounced.
//
// IsValid is purely local: a session is invalid once invalidated or once the
// earliest persistent cookie the portal set has expired. Portals that only
// set browser-session cookies give no expiry signal, so expiry is detected
// reactively by the scraper (redirect to login.jsp or a login form served in
// place of data).
//
// errors.go defines the failure taxonomy shared with the scraper:
// ErrAuthentication, ErrTransport and ErrDataFormat, carried by *Error.
package session
