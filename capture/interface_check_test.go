package capture

// Compile-time checks that every backend implements Recorder.

var _ Recorder = (*sqliteRecorder)(nil)
var _ Recorder = (*mysqlRecorder)(nil)
var _ Recorder = (*clickhouseRecorder)(nil)
