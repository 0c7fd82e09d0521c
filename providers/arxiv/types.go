package arxiv

import "time"

// Atom response of the arXiv query API.
type feed struct {
	Title   string  `xml:"title"`
	Total   int     `xml:"totalResults"`
	Offset  int     `xml:"startIndex"`
	PerPage int     `xml:"itemsPerPage"`
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID        string    `xml:"id"`
	Title     string    `xml:"title"`
	Summary   string    `xml:"summary"`
	Published time.Time `xml:"published"`
	Updated   time.Time `xml:"updated"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	Links []struct {
		HRef string `xml:"href,attr"`
		Type string `xml:"type,attr"`
	} `xml:"link"`
}
