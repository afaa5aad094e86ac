package domain

import "time"

// Employee is a member of a customer company who can hold eSIM plans.
type Employee struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"companyId"`
	Name       string    `json:"name"`
	Position   string    `json:"position,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateEmployeeRequest is the body for POST /api/employees.
type CreateEmployeeRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Position   string `json:"position" validate:"max=200"`
	Email      string `json:"email" validate:"omitempty,email,max=254"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	Department string `json:"department" validate:"max=200"`
}

// BulkCreateEmployeesRequest is the body for POST /api/employees/bulk.
type BulkCreateEmployeesRequest struct {
	Employees []CreateEmployeeRequest `json:"employees" validate:"required,min=1,max=500,dive"`
}

// EmployeeRow is one line of the employee table. An employee with N current plans
// yields N rows; one with none yields a single row without a plan.
type EmployeeRow struct {
	RowKey    string        `json:"rowKey"`
	Employee  Employee      `json:"employee"`
	Plan      *PlanInfo     `json:"plan,omitempty"`
	PlanCount int           `json:"planCount"`
	Overall   OverallStatus `json:"overall"`
}
