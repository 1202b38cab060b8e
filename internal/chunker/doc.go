// Package chunker divides regulatory document text into chunks for embedding and search.
//
// Text is first normalized: line endings are unified, "=== Sayfa N ===" page
// markers are dropped, lines are trimmed and blank-line runs collapse to one.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.DefaultConfig(), chunker.WithDocument("SUT", "9.5.17229.pdf"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	chunks, err := c.Chunk(rawText, chunker.PolicyHybrid)
//	for _, chunk := range chunks {
//	    fmt.Printf("%s: section %q, %d tokens\n",
//	        chunk.ID, chunk.Metadata.Section, chunk.TokenCount)
//	}
//
// # Policies
//
//   - fixed: ChunkSize character windows with ChunkOverlap backward overlap;
//     windows shorter than MinChunkSize are discarded.
//   - semantic: paragraphs packed up to MaxChunkSize, each new chunk seeded
//     with the last paragraph of the previous one. Oversized paragraphs are
//     packed sentence by sentence, absorbing short pending text before them
//     and leaving their last sentences open for the next paragraph. A short
//     trailing chunk is dropped.
//   - hybrid: every section header ("4.2.28", "4.2.28.A") opens a chunk,
//     and chunks are closed before they pass ChunkSize, carrying up to
//     ChunkOverlap characters of trailing lines forward. MinChunkSize does
//     not apply, so short sections stay whole.
//
// Lengths are measured in characters (runes), including separators.
//
// # Metadata
//
// Each chunk gets metadata derived from its content: the section number found
// in its first lines, a topic line, active-ingredient terms (a fixed stem
// dictionary plus the -mab, -stat and -pril suffixes), keywords (ICD-10 codes,
// age and duration pairs, specialty terms) and two indicator flags.
//
// Chunk IDs have the form "{doc_prefix}_chunk_{ordinal:04d}" where the prefix
// is the lowercased document type with '/' and '-' replaced by '_'.
package chunker
