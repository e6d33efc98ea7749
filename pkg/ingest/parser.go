// Package ingest turns uploaded knowledge-base files into reviewable
// staging drafts and commits approved drafts into the authoritative
// stores. Nothing in a draft is visible to the query pipeline until
// commit completes.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

// File is one uploaded file of a stage request.
type File struct {
	Name string
	Data []byte
}

// jsonPair is the accepted JSON upload row.
type jsonPair struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Category string   `json:"category,omitempty"`
	Intent   string   `json:"intent,omitempty"`
	Language string   `json:"language,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Parse extracts candidate chunks from the uploaded files. Chunk ids are
// assigned sequentially across all files ("c1", "c2", …) so review edits
// and split ids ("c3.1") stay readable. Files yielding no pairs are an
// error; empty uploads never create drafts.
func Parse(files []File) ([]models.DraftChunk, error) {
	var chunks []models.DraftChunk
	for _, f := range files {
		parsed, err := parseFile(f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.Name, err)
		}
		chunks = append(chunks, parsed...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no question/answer pairs found in upload")
	}
	for i := range chunks {
		chunks[i].ChunkID = fmt.Sprintf("c%d", i+1)
		if chunks[i].Language == "" {
			chunks[i].Language = similarity.DetectLanguage(chunks[i].Question + " " + chunks[i].Answer)
		}
	}
	return chunks, nil
}

func parseFile(f File) ([]models.DraftChunk, error) {
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".json":
		return parseJSON(f.Data)
	case ".csv":
		return parseCSV(f.Data)
	case ".txt", ".text":
		return parseText(f.Data)
	default:
		return parseSniffed(f.Data)
	}
}

// parseSniffed handles extensionless or unknown files by content shape.
func parseSniffed(data []byte) ([]models.DraftChunk, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return parseJSON(data)
	}
	if looksLikeCSV(data) {
		return parseCSV(data)
	}
	return parseText(data)
}

func parseJSON(data []byte) ([]models.DraftChunk, error) {
	var rows []jsonPair
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("invalid JSON pair list: %w", err)
	}
	chunks := make([]models.DraftChunk, 0, len(rows))
	for i, row := range rows {
		if strings.TrimSpace(row.Question) == "" || strings.TrimSpace(row.Answer) == "" {
			return nil, fmt.Errorf("entry %d: question and answer are required", i)
		}
		chunks = append(chunks, models.DraftChunk{
			Question: strings.TrimSpace(row.Question),
			Answer:   strings.TrimSpace(row.Answer),
			Category: row.Category,
			Intent:   row.Intent,
			Language: row.Language,
			Tags:     row.Tags,
		})
	}
	return chunks, nil
}

// parseCSV reads question/answer columns. A header row is detected by
// name; headerless files are read positionally (question, answer,
// optional category, intent).
func parseCSV(data []byte) ([]models.DraftChunk, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	qCol, aCol, cCol, iCol := 0, 1, -1, -1
	start := 0
	if cols, ok := headerColumns(records[0]); ok {
		qCol, aCol, cCol, iCol = cols.question, cols.answer, cols.category, cols.intent
		start = 1
	}

	var chunks []models.DraftChunk
	for n, rec := range records[start:] {
		if len(rec) <= aCol || len(rec) <= qCol {
			return nil, fmt.Errorf("row %d: expected question and answer columns", start+n+1)
		}
		q, a := strings.TrimSpace(rec[qCol]), strings.TrimSpace(rec[aCol])
		if q == "" && a == "" {
			continue
		}
		if q == "" || a == "" {
			return nil, fmt.Errorf("row %d: question and answer are required", start+n+1)
		}
		chunk := models.DraftChunk{Question: q, Answer: a}
		if cCol >= 0 && cCol < len(rec) {
			chunk.Category = strings.TrimSpace(rec[cCol])
		}
		if iCol >= 0 && iCol < len(rec) {
			chunk.Intent = strings.TrimSpace(rec[iCol])
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

type csvColumns struct {
	question, answer, category, intent int
}

func headerColumns(row []string) (csvColumns, bool) {
	cols := csvColumns{question: -1, answer: -1, category: -1, intent: -1}
	for i, cell := range row {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "question", "pregunta", "q":
			cols.question = i
		case "answer", "respuesta", "a":
			cols.answer = i
		case "category", "categoria":
			cols.category = i
		case "intent", "intencion":
			cols.intent = i
		}
	}
	if cols.question >= 0 && cols.answer >= 0 {
		return cols, true
	}
	return csvColumns{}, false
}

func looksLikeCSV(data []byte) bool {
	line := string(data)
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = string(data[:idx])
	}
	return strings.Count(line, ",") >= 1 && !strings.HasPrefix(strings.TrimSpace(line), "Q:")
}

// parseText reads the Q:/A: marker format: a Q: line starts a question,
// an A: line starts its answer, continuation lines append to whichever
// block is open. Pairs close when the next Q: begins.
func parseText(data []byte) ([]models.DraftChunk, error) {
	var (
		chunks   []models.DraftChunk
		question strings.Builder
		answer   strings.Builder
		inAnswer bool
		open     bool
	)

	flush := func() error {
		if !open {
			return nil
		}
		q := strings.TrimSpace(question.String())
		a := strings.TrimSpace(answer.String())
		if q == "" || a == "" {
			return fmt.Errorf("unpaired Q:/A: block near %q", q+a)
		}
		chunks = append(chunks, models.DraftChunk{Question: q, Answer: a})
		question.Reset()
		answer.Reset()
		inAnswer = false
		open = false
		return nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Q:"):
			if err := flush(); err != nil {
				return nil, err
			}
			open = true
			inAnswer = false
			question.WriteString(strings.TrimSpace(trimmed[2:]))
		case strings.HasPrefix(trimmed, "A:"):
			if !open {
				return nil, fmt.Errorf("A: without preceding Q:")
			}
			inAnswer = true
			answer.WriteString(strings.TrimSpace(trimmed[2:]))
		case trimmed == "":
			continue
		default:
			if !open {
				continue
			}
			target := &question
			if inAnswer {
				target = &answer
			}
			if target.Len() > 0 {
				target.WriteByte(' ')
			}
			target.WriteString(trimmed)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return chunks, nil
}
