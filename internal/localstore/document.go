package localstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"contentcal/internal/calendar"
)

// document is the persisted layout of the slot. Field names are shared with
// earlier versions of the client and must not change.
type document struct {
	Metadata         metadataJSON               `json:"metadata"`
	SavedContentData detailList                 `json:"savedContentData"`
	AllMonthsData    map[string][]placementJSON `json:"allMonthsData"`
}

type metadataJSON struct {
	ContentCounter int    `json:"contentCounter"`
	CurrentMonth   int    `json:"currentMonth"`
	CurrentYear    int    `json:"currentYear"`
	LastSave       string `json:"lastSave,omitempty"`
}

type placementJSON struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

type detailJSON struct {
	Title       string   `json:"title"`
	StatusText  string   `json:"statusText"`
	StatusColor string   `json:"statusColor"`
	Format      string   `json:"format"`
	Caption     string   `json:"caption"`
	Images      []string `json:"images"`
	CreatedAt   string   `json:"createdAt"`
	FromBackend bool     `json:"fromBackend,omitempty"`
	Day         string   `json:"day,omitempty"`
}

type detailEntry struct {
	ID     string
	Detail detailJSON
}

// detailList is a JSON object whose key order is kept, so that insertion
// order survives a save/load cycle.
type detailList []detailEntry

func (l detailList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.ID)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Detail)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (l *detailList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("localstore: savedContentData is not an object")
	}
	out := make(detailList, 0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var d detailJSON
		if err := dec.Decode(&d); err != nil {
			return fmt.Errorf("localstore: detail %q: %w", key, err)
		}
		out = append(out, detailEntry{ID: key, Detail: d})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*l = out
	return nil
}

// encode renders s. With reduced set, allMonthsData is written empty.
func encode(s calendar.State, reduced bool) ([]byte, error) {
	doc := document{
		Metadata: metadataJSON{
			ContentCounter: s.Metadata.ContentCounter,
			CurrentMonth:   s.Metadata.CurrentMonth,
			CurrentYear:    s.Metadata.CurrentYear,
			LastSave:       s.Metadata.LastSave,
		},
		SavedContentData: make(detailList, 0, len(s.Records)),
		AllMonthsData:    make(map[string][]placementJSON),
	}
	for _, r := range s.Records {
		d := detailJSON{
			Title:       r.Title,
			StatusText:  r.StatusText,
			StatusColor: r.StatusColor,
			Format:      r.Format,
			Caption:     r.Caption,
			Images:      r.Images,
			CreatedAt:   r.CreatedAt,
			FromBackend: r.FromBackend,
		}
		if d.Images == nil {
			d.Images = []string{}
		}
		if r.Day.Valid() {
			d.Day = r.Day.String()
		}
		doc.SavedContentData = append(doc.SavedContentData, detailEntry{ID: r.ID, Detail: d})
	}
	if !reduced {
		for day, ps := range s.Days {
			list := make([]placementJSON, 0, len(ps))
			for _, p := range ps {
				list = append(list, placementJSON{ID: p.ID, HTML: p.HTML})
			}
			doc.AllMonthsData[day.String()] = list
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decode parses a stored document. Unparseable day keys are skipped and
// reported through skipped.
func decode(data []byte) (s calendar.State, skipped int, err error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return calendar.State{}, 0, err
	}

	s = calendar.State{
		Metadata: calendar.Metadata{
			ContentCounter: doc.Metadata.ContentCounter,
			CurrentMonth:   doc.Metadata.CurrentMonth,
			CurrentYear:    doc.Metadata.CurrentYear,
			LastSave:       doc.Metadata.LastSave,
		},
		Records: make([]calendar.ContentRecord, 0, len(doc.SavedContentData)),
		Days:    make(map[calendar.DayKey][]calendar.Placement, len(doc.AllMonthsData)),
	}
	for _, e := range doc.SavedContentData {
		if e.ID == "" {
			skipped++
			continue
		}
		r := calendar.ContentRecord{
			ID:          e.ID,
			Title:       e.Detail.Title,
			StatusText:  e.Detail.StatusText,
			StatusColor: e.Detail.StatusColor,
			Format:      e.Detail.Format,
			Caption:     e.Detail.Caption,
			Images:      e.Detail.Images,
			CreatedAt:   e.Detail.CreatedAt,
			FromBackend: e.Detail.FromBackend,
		}
		if e.Detail.Day != "" {
			if d, err := calendar.ParseDayKey(e.Detail.Day); err == nil {
				r.Day = d
			}
		}
		s.Records = append(s.Records, r)
	}
	for key, list := range doc.AllMonthsData {
		day, err := calendar.ParseDayKey(key)
		if err != nil {
			skipped++
			continue
		}
		ps := make([]calendar.Placement, 0, len(list))
		for _, p := range list {
			ps = append(ps, calendar.Placement{ID: p.ID, HTML: p.HTML})
		}
		// "2024-03-05" and "2024-3-5" name the same day.
		if prev, ok := s.Days[day]; ok {
			ps = append(prev, ps...)
			skipped++
		}
		s.Days[day] = ps
	}
	return s, skipped, nil
}
