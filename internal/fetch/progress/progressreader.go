package progress

import "io"

// Reader wraps an io.Reader and reports cumulative progress via a callback.
// The callback fires at most once per reportInterval bytes so short reads
// don't flood subscribers.
type Reader struct {
	reader         io.Reader
	total          int64
	onProgress     func(received int64, total int64)
	totalRead      int64
	sinceReport    int64
	reportInterval int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(received int64, total int64)) *Reader {
	return &Reader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.sinceReport += int64(n)

		if pr.onProgress != nil && (pr.sinceReport >= pr.reportInterval || pr.totalRead == pr.total) {
			pr.onProgress(pr.totalRead, pr.total)
			pr.sinceReport = 0
		}
	}

	return n, err
}
