package handler

import (
	"net/http"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Employees
// ============================================================

func listEmployeesHandler(svc *service.EmployeeService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/employees")
		defer span.End()

		p, _ := PrincipalFromContext(ctx)
		rows, err := svc.ListEmployeeRows(ctx, p.CompanyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "total": len(rows)})
	}
}

func employeePlansHandler(svc *service.EmployeeService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/employees/{id}/plans")
		defer span.End()

		id, err := pathInt64(r, "id")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int64("employee.id", id))

		p, _ := PrincipalFromContext(ctx)
		plans, err := svc.GetEmployeePlans(ctx, p.CompanyID, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, plans)
	}
}

func createEmployeeHandler(svc *service.EmployeeService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/employees")
		defer span.End()

		var req domain.CreateEmployeeRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		p, _ := PrincipalFromContext(ctx)
		emp, err := svc.CreateEmployee(ctx, p.CompanyID, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, emp)
	}
}

func bulkCreateEmployeesHandler(svc *service.EmployeeService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/employees/bulk")
		defer span.End()

		var req domain.BulkCreateEmployeesRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("employees.count", len(req.Employees)))

		p, _ := PrincipalFromContext(ctx)
		created, err := svc.BulkCreate(ctx, p.CompanyID, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"employees": created, "created": len(created)})
	}
}

func deleteEmployeeHandler(svc *service.EmployeeService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /api/employees/{id}")
		defer span.End()

		id, err := pathInt64(r, "id")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		p, _ := PrincipalFromContext(ctx)
		if err := svc.DeleteEmployee(ctx, p.CompanyID, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
