package refiner

import "testing"

func TestValidateSQLSecurityAcceptsPlainSelect(t *testing.T) {
	result := ValidateSQLSecurity("SELECT id, name FROM users WHERE id = 1")
	if !result.IsSafe {
		t.Fatalf("expected plain select to be safe, got %+v", result)
	}
}

func TestValidateSQLSecurityAcceptsWith(t *testing.T) {
	result := ValidateSQLSecurity("WITH top AS (SELECT id FROM users) SELECT * FROM top")
	if !result.IsSafe {
		t.Fatalf("expected WITH query to be safe, got %+v", result)
	}
}

func TestValidateSQLSecurityRejectsNonSelect(t *testing.T) {
	result := ValidateSQLSecurity("DELETE FROM users WHERE id = 1")
	if result.IsSafe {
		t.Fatalf("expected DELETE to be rejected")
	}
	if result.RiskLevel != RiskHigh && result.RiskLevel != RiskMedium {
		t.Fatalf("expected a non-low risk level, got %v", result.RiskLevel)
	}
}

func TestValidateSQLSecurityRejectsStackedStatement(t *testing.T) {
	result := ValidateSQLSecurity("SELECT * FROM users; DROP TABLE users")
	if result.IsSafe {
		t.Fatalf("expected stacked DROP statement to be rejected")
	}
	if result.RiskLevel != RiskHigh {
		t.Fatalf("expected high risk, got %v", result.RiskLevel)
	}
}

func TestValidateSQLSecurityRejectsTautology(t *testing.T) {
	result := ValidateSQLSecurity("SELECT * FROM users WHERE 1=1 OR 1=1")
	if result.IsSafe {
		t.Fatalf("expected tautology injection pattern to be rejected")
	}
}

func TestValidateSQLSecurityRejectsSuspiciousFunction(t *testing.T) {
	result := ValidateSQLSecurity("SELECT SLEEP(5) FROM users")
	if result.IsSafe {
		t.Fatalf("expected SLEEP() to be rejected")
	}
	if result.RiskLevel != RiskMedium {
		t.Fatalf("expected medium risk, got %v", result.RiskLevel)
	}
}
