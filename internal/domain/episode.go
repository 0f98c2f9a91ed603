package domain

// EpisodeLog holds the identities of the reports seen during one warning
// episode, in arrival order. It is not safe for concurrent use; the scheduler
// owns it.
type EpisodeLog struct {
	seen []ReportIdentity
}

// IsNew reports whether r carries an identity not yet in the log.
func IsNew(r WarningReport, log *EpisodeLog) bool {
	id := r.Identity()
	for _, s := range log.seen {
		if s == id {
			return false
		}
	}
	return true
}

// Append records an identity at the end of the log.
func (l *EpisodeLog) Append(id ReportIdentity) {
	l.seen = append(l.seen, id)
}

// Clear ends the episode.
func (l *EpisodeLog) Clear() {
	l.seen = nil
}

// Len returns the number of recorded identities.
func (l *EpisodeLog) Len() int {
	return len(l.seen)
}
