package util

import "github.com/influxdata/influxdb-client-go/api/write"

// MockWriteAPI satisfies the influx write API and discards everything.
// Components that emit metric points use it as their default so they run
// without an influx server configured.
type MockWriteAPI struct{}

func (m *MockWriteAPI) WriteRecord(line string) {}

func (m *MockWriteAPI) WritePoint(point *write.Point) {}

func (m *MockWriteAPI) Flush() {}

func (m *MockWriteAPI) Close() {}

func (m *MockWriteAPI) Errors() <-chan error { return nil }
