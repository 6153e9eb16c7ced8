// Package scraper reads the total kilometers figure from the portal's
// statistics page (clienti/consumiCustomer.jsp).
//
// Scraper.Scrape takes an authenticated *session.Session, fetches the page
// with the session's cookie-carrying client and parses it with goquery.
// parse.go holds the page knowledge: the figure sits in the
// tr[align=center] row labelled "KM TOTALI PERCORSI" inside div#statPage2,
// with an alternate "KM TOTALI PERCORSI:" label layout as fallback; the
// period end date follows the "AL:" td.inputMask cell.
//
// Numbers tolerate "." and "," as either thousands or decimal separator.
// Dates accept dd/mm/yyyy, yyyy-mm-dd, dd-mm-yyyy and dd.mm.yyyy with or
// without zero padding.
package scraper
