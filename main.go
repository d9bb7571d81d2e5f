/*
Package main is the entry point of bulkmon, the bulk SMS progress monitor.

bulkmon polls the progress endpoint of a messaging platform for bulk send
jobs, derives throughput metrics, raises alerts on low throughput, high error
rates and stalls, and presents the result either in the terminal or through a
small dashboard API.

Run the dashboard:

	$ bulkmon serve --config monitor.yaml

Watch a job in the terminal:

	$ bulkmon watch 1234

Endpoints served by "bulkmon serve":
  - GET /jobs, GET /jobs/{id}/progress: Monitor state of watched jobs.
  - POST|DELETE /jobs/{id}/watch: Start or stop a monitor.
  - POST /jobs/{id}/send, POST /jobs/{id}/stop: Job control.
  - GET /imports, GET /imports/{bulkId}/contacts: Import history.
*/
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
