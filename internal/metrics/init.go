package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, op := range []string{"initialize_schema", "get_files", "scan_files", "count_files",
		"insert_files", "update_files", "delete_files", "file_ids_by_tags", "save_tag_counts",
		"export", "import", "begin_transaction"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, outcome := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(outcome)
	}

	for _, d := range []string{"initial", "after", "before", "count"} {
		SearchDuration.WithLabelValues(d)
	}

	for _, vt := range []string{"number", "date", "string", "array", "indexSignature"} {
		CompiledConditions.WithLabelValues(vt, "index")
		CompiledConditions.WithLabelValues(vt, "scan")
	}

	for _, kind := range []string{"drain", "full", "globals"} {
		AggregateRecomputeDuration.WithLabelValues(kind)
	}

	for _, op := range []string{"created", "saved", "removed", "broken", "restored"} {
		IngestFilesTotal.WithLabelValues(op)
	}

	for _, op := range []string{"insert_files", "save_files", "delete_files", "apply_diff"} {
		RetryAttempts.WithLabelValues(op)
		RetryFailures.WithLabelValues(op)
		RetryDuration.WithLabelValues(op)
	}

	for _, state := range []string{"all", "untagged", "missing"} {
		CatalogFilesTotal.WithLabelValues(state)
	}
}
