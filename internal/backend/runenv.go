package backend

import (
	"fmt"
	"os"
)

var getenv = os.Getenv

// RunEnv identifies the CI build that produced the results
type RunEnv struct {
	CI      string `json:"CI"`
	Key     string `json:"key"`
	Number  string `json:"number,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Commit  string `json:"commit,omitempty"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

// DetectRunEnv inspects the environment of the known CI providers
func DetectRunEnv(env func(string) string) RunEnv {
	switch {
	case env("BUILDKITE_BUILD_ID") != "":
		return RunEnv{
			CI:      "buildkite",
			Key:     env("BUILDKITE_BUILD_ID"),
			Number:  env("BUILDKITE_BUILD_NUMBER"),
			JobID:   env("BUILDKITE_JOB_ID"),
			Branch:  env("BUILDKITE_BRANCH"),
			Commit:  env("BUILDKITE_COMMIT"),
			Message: env("BUILDKITE_MESSAGE"),
			URL:     env("BUILDKITE_BUILD_URL"),
		}

	case env("GITHUB_ACTION") != "":
		attempt := env("GITHUB_RUN_ATTEMPT")
		if attempt == "" {
			attempt = "1"
		}
		return RunEnv{
			CI:     "github_actions",
			Key:    fmt.Sprintf("%s-%s", env("GITHUB_RUN_ID"), attempt),
			Number: env("GITHUB_RUN_NUMBER"),
			Branch: env("GITHUB_REF"),
			Commit: env("GITHUB_SHA"),
			URL:    fmt.Sprintf("%s/%s/actions/runs/%s", env("GITHUB_SERVER_URL"), env("GITHUB_REPOSITORY"), env("GITHUB_RUN_ID")),
		}

	case env("CIRCLE_BUILD_NUM") != "":
		return RunEnv{
			CI:     "circleci",
			Key:    env("CIRCLE_WORKFLOW_ID"),
			Number: env("CIRCLE_BUILD_NUM"),
			Branch: env("CIRCLE_BRANCH"),
			Commit: env("CIRCLE_SHA1"),
			URL:    env("CIRCLE_BUILD_URL"),
		}

	default:
		return RunEnv{
			CI:  "generic",
			Key: env("CI_BUILD_ID"),
		}
	}
}
