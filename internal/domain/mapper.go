package domain

// DocumentFromRecord builds the search document for r. Field values are copied as-is.
func DocumentFromRecord(r Record) SearchDocument {
	return SearchDocument{
		ID:        r.ID,
		Title:     r.Title,
		Contents:  r.Contents,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
}
