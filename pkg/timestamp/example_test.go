package timestamp_test

import (
	"fmt"

	"github.com/c360/citystreams/pkg/timestamp"
)

func ExampleParseEventTime() {
	t, err := timestamp.ParseEventTime("2024-03-01T10:15:00")
	if err != nil {
		panic(err)
	}
	fmt.Println(timestamp.Format(t))
	fmt.Println(timestamp.ToUnixMs(t))
	// Output:
	// 2024-03-01T10:15:00Z
	// 1709288100000
}
